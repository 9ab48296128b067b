package main

import (
	"context"
	"fmt"

	"github.com/desurestar/RSOD-project/internal/blogapi"
	"github.com/desurestar/RSOD-project/internal/domain"
)

// LoginCmd exchanges credentials for a token pair.
type LoginCmd struct {
	Username string `arg:"" help:"Account name"`
	Password string `help:"Account password" env:"BLOGSYNC_PASSWORD" required:""`
}

// Run executes the login command
func (l *LoginCmd) Run(ctx context.Context, cli *CLI) error {
	a, err := cli.open(ctx)
	if err != nil {
		return err
	}
	me, err := a.Blog.Login(ctx, blogapi.Credentials{Username: l.Username, Password: l.Password})
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	fmt.Fprintf(cli.out, "Logged in as %s\n", me.Username)
	return nil
}

// RegisterCmd creates an account.
type RegisterCmd struct {
	Username string `arg:"" help:"Account name"`
	Email    string `help:"Email address" required:""`
	Password string `help:"Account password, at least 8 characters" env:"BLOGSYNC_PASSWORD" required:""`
}

// Run executes the register command
func (r *RegisterCmd) Run(ctx context.Context, cli *CLI) error {
	a, err := cli.open(ctx)
	if err != nil {
		return err
	}
	me, err := a.Blog.Register(ctx, blogapi.Registration{
		Username: r.Username,
		Email:    r.Email,
		Password: r.Password,
	})
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	fmt.Fprintf(cli.out, "Registered and logged in as %s\n", me.Username)
	return nil
}

// LogoutCmd clears the stored tokens.
type LogoutCmd struct{}

// Run executes the logout command
func (l *LogoutCmd) Run(ctx context.Context, cli *CLI) error {
	a, err := cli.open(ctx)
	if err != nil {
		return err
	}
	if err := a.Blog.Logout(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	fmt.Fprintln(cli.out, "Logged out")
	return nil
}

// WhoamiCmd prints the current profile.
type WhoamiCmd struct {
	Format string `help:"Output format: text or json" enum:"text,json" default:"text"`
}

// Run executes the whoami command
func (w *WhoamiCmd) Run(ctx context.Context, cli *CLI) error {
	a, err := cli.open(ctx)
	if err != nil {
		return err
	}
	me, err := a.Blog.RefreshMe(ctx)
	if err != nil {
		return fmt.Errorf("whoami: %w", err)
	}
	if w.Format == "json" {
		return cli.printJSON(me)
	}
	printUser(cli, me)
	return nil
}

func printUser(cli *CLI, u domain.User) {
	name := u.Username
	if u.DisplayName != "" {
		name = fmt.Sprintf("%s (%s)", u.DisplayName, u.Username)
	}
	fmt.Fprintf(cli.out, "#%d %s\n", u.ID, name)
	fmt.Fprintf(cli.out, "  posts: %d  liked: %d  subscribers: %d  subscriptions: %d\n",
		u.PostsCount, u.LikedPostsCount, u.SubscribersCount, u.SubscriptionsCount)
}
