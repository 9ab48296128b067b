package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"github.com/desurestar/RSOD-project/internal/app"
	"github.com/desurestar/RSOD-project/internal/config"
	"github.com/desurestar/RSOD-project/pkg/logger"
)

// CLI is the blogsync command tree. Flags override the environment.
type CLI struct {
	Version    kong.VersionFlag `help:"Show version information"`
	BaseURL    string           `help:"Blog API base URL (overrides BLOG_API_BASE_URL)" name:"base-url"`
	LogLevel   string           `help:"Log level: debug, info, warn or error (overrides LOG_LEVEL)"`
	LogFormat  string           `help:"Log output format" enum:"json,text" default:"text"`
	TokenStore string           `help:"Where tokens are kept: memory, file or redis (overrides TOKEN_STORE)"`
	TokenFile  string           `help:"Token file for the file store (overrides TOKEN_FILE)" type:"path"`

	Login    LoginCmd    `cmd:"" help:"Log in and store the session tokens"`
	Register RegisterCmd `cmd:"" help:"Create an account and log in"`
	Logout   LogoutCmd   `cmd:"" help:"Forget the stored session"`
	Whoami   WhoamiCmd   `cmd:"" help:"Show the logged in user"`
	Feed     FeedCmd     `cmd:"" help:"List posts of the home feed"`
	Post     PostCmd     `cmd:"" help:"Show one post"`
	Like     LikeCmd     `cmd:"" help:"Toggle the like of a post"`
	Profile  ProfileCmd  `cmd:"" help:"Show a user profile"`
	Follow   FollowCmd   `cmd:"" help:"Subscribe to a user"`
	Unfollow UnfollowCmd `cmd:"" help:"Unsubscribe from a user"`
	Comments CommentsCmd `cmd:"" help:"Show the comment tree of a post"`
	Comment  CommentCmd  `cmd:"" help:"Comment on a post or reply to a comment"`
	Status   StatusCmd   `cmd:"" help:"Report health of the session and its dependencies"`
	Serve    ServeCmd    `cmd:"" help:"Serve /metrics and health endpoints until interrupted"`

	CommentEdit   CommentEditCmd   `cmd:"" name:"comment-edit" help:"Edit one of your comments"`
	CommentDelete CommentDeleteCmd `cmd:"" name:"comment-delete" help:"Delete one of your comments and its replies"`

	cfg    *config.Config `kong:"-"`
	logger *slog.Logger   `kong:"-"`
	app    *app.App       `kong:"-"`
	out    io.Writer      `kong:"-"`
}

// AfterApply loads the configuration and applies flag overrides.
func (c *CLI) AfterApply() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if c.BaseURL != "" {
		cfg.BaseURL = c.BaseURL
	}
	if c.LogLevel != "" {
		cfg.LogLevel = c.LogLevel
	}
	if c.TokenStore != "" {
		cfg.TokenStore = c.TokenStore
	}
	if c.TokenFile != "" {
		cfg.TokenFile = c.TokenFile
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	c.cfg = cfg
	c.logger = logger.NewWithWriter("blogsync", cfg.LogLevel, logger.Format(c.LogFormat), os.Stderr)
	if c.out == nil {
		c.out = os.Stdout
	}
	return nil
}

// open builds the application once per invocation.
func (c *CLI) open(ctx context.Context) (*app.App, error) {
	if c.app != nil {
		return c.app, nil
	}
	a, err := app.New(ctx, c.cfg, c.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize: %w", err)
	}
	c.app = a
	return a, nil
}

func (c *CLI) printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Fprintln(c.out, string(data))
	return nil
}
