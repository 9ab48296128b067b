// Package service holds the view models of the blog client. They compose the
// collection loader, the optimistic executor and the comment tree builder over
// the API client.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/desurestar/RSOD-project/internal/blogapi"
	"github.com/desurestar/RSOD-project/internal/comments"
	"github.com/desurestar/RSOD-project/internal/domain"
	"github.com/desurestar/RSOD-project/internal/optimistic"
	"github.com/desurestar/RSOD-project/internal/paginate"
	"github.com/desurestar/RSOD-project/pkg/pagination"
)

// DefaultFeedPageSize matches the page size of the home page.
const DefaultFeedPageSize = 4

// API is the subset of blogapi.Client the view models call.
type API interface {
	Login(ctx context.Context, creds blogapi.Credentials) (domain.Tokens, error)
	Register(ctx context.Context, reg blogapi.Registration) (blogapi.Registered, error)
	Profile(ctx context.Context) (domain.User, error)
	User(ctx context.Context, id int64) (domain.User, error)
	ListPosts(ctx context.Context, filter blogapi.PostFilter, req pagination.Request) (pagination.Page[domain.Post], error)
	Post(ctx context.Context, id int64) (domain.Post, error)
	Like(ctx context.Context, id int64) (blogapi.LikeResult, error)
	Subscribe(ctx context.Context, id int64) (blogapi.FollowResult, error)
	Unsubscribe(ctx context.Context, id int64) (blogapi.FollowResult, error)
	Followers(ctx context.Context, userID int64, req pagination.Request) (pagination.Page[domain.User], error)
	Following(ctx context.Context, userID int64, req pagination.Request) (pagination.Page[domain.User], error)
	UserPosts(ctx context.Context, userID int64, req pagination.Request) (pagination.Page[domain.Post], error)
	LikedPosts(ctx context.Context, userID int64, req pagination.Request) (pagination.Page[domain.Post], error)
	Comments(ctx context.Context, postID int64) ([]domain.Comment, error)
	CreateComment(ctx context.Context, postID int64, in blogapi.NewComment) (domain.Comment, error)
	UpdateComment(ctx context.Context, id int64, in blogapi.EditComment) (domain.Comment, error)
	DeleteComment(ctx context.Context, id int64) error
}

// Session is the token holder the view models log in and out of.
// session.Coordinator satisfies it.
type Session interface {
	Establish(ctx context.Context, tokens domain.Tokens) error
	Logout(ctx context.Context) error
	Authenticated() bool
}

// ErrNotLoggedIn is returned by operations that need a session.
var ErrNotLoggedIn = errors.New("not logged in")

// Config tunes the view models.
type Config struct {
	FeedPageSize int
	ReplyWindow  int
}

// Blog is the root view model: the signed-in user, the feed and the posts
// currently open. Every like and subscribe button goes through its executors.
type Blog struct {
	api     API
	session Session
	cfg     Config
	logger  *slog.Logger

	feed    *Feed
	likes   *optimistic.Executor[domain.LikeState, blogapi.LikeResult]
	follows *optimistic.Executor[domain.FollowState, blogapi.FollowResult]

	mu    sync.Mutex
	me    *domain.User
	posts map[int64]*PostView
}

// New creates the view models.
func New(api API, session Session, cfg Config, logger *slog.Logger) *Blog {
	if cfg.FeedPageSize < 1 {
		cfg.FeedPageSize = DefaultFeedPageSize
	}
	if cfg.ReplyWindow < 1 {
		cfg.ReplyWindow = comments.DefaultReplyWindow
	}
	b := &Blog{
		api:     api,
		session: session,
		cfg:     cfg,
		logger:  logger,
		likes:   optimistic.NewExecutor[domain.LikeState, blogapi.LikeResult](logger),
		follows: optimistic.NewExecutor[domain.FollowState, blogapi.FollowResult](logger),
		posts:   make(map[int64]*PostView),
	}
	b.feed = &Feed{
		blog:   b,
		loader: paginate.New(api.ListPosts, blogapi.PostFilter{}, paginate.Config{Name: "feed", PageSize: cfg.FeedPageSize}, logger),
	}
	return b
}

// Feed returns the home feed.
func (b *Blog) Feed() *Feed {
	return b.feed
}

// Me returns the signed-in user, if known.
func (b *Blog) Me() (domain.User, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.me == nil {
		return domain.User{}, false
	}
	return *b.me, true
}

// Login authenticates and loads the profile.
func (b *Blog) Login(ctx context.Context, creds blogapi.Credentials) (domain.User, error) {
	tokens, err := b.api.Login(ctx, creds)
	if err != nil {
		return domain.User{}, fmt.Errorf("login: %w", err)
	}
	return b.establish(ctx, tokens)
}

// Register creates an account and signs in. When the server does not hand
// out tokens on registration the new credentials are used to log in.
func (b *Blog) Register(ctx context.Context, reg blogapi.Registration) (domain.User, error) {
	out, err := b.api.Register(ctx, reg)
	if err != nil {
		return domain.User{}, fmt.Errorf("register: %w", err)
	}

	tokens := out.Tokens
	if tokens.Empty() {
		b.logger.DebugContext(ctx, "registration returned no tokens, logging in", slog.String("username", reg.Username))
		tokens, err = b.api.Login(ctx, blogapi.Credentials{Username: reg.Username, Password: reg.Password})
		if err != nil {
			return domain.User{}, fmt.Errorf("login after register: %w", err)
		}
	}
	return b.establish(ctx, tokens)
}

func (b *Blog) establish(ctx context.Context, tokens domain.Tokens) (domain.User, error) {
	b.reset()
	if err := b.session.Establish(ctx, tokens); err != nil {
		return domain.User{}, fmt.Errorf("store session: %w", err)
	}
	return b.RefreshMe(ctx)
}

// RefreshMe reloads the signed-in user's profile.
func (b *Blog) RefreshMe(ctx context.Context) (domain.User, error) {
	if !b.session.Authenticated() {
		return domain.User{}, ErrNotLoggedIn
	}
	u, err := b.api.Profile(ctx)
	if err != nil {
		return domain.User{}, fmt.Errorf("load profile: %w", err)
	}
	b.mu.Lock()
	b.me = &u
	b.mu.Unlock()
	return u, nil
}

// Logout ends the session and drops everything loaded under it.
func (b *Blog) Logout(ctx context.Context) error {
	err := b.session.Logout(ctx)
	b.reset()
	b.logger.InfoContext(ctx, "logged out")
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// Expired resets the view models after the session could not be refreshed.
// It is meant for session.Config.OnExpired.
func (b *Blog) Expired(ctx context.Context, cause error) {
	b.logger.WarnContext(ctx, "session expired", slog.String("error", cause.Error()))
	b.reset()
}

func (b *Blog) reset() {
	b.feed.loader.Clear()
	b.mu.Lock()
	b.me = nil
	b.posts = make(map[int64]*PostView)
	b.mu.Unlock()
}

// adjustMe applies fn to the signed-in user, if loaded.
func (b *Blog) adjustMe(fn func(*domain.User)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.me != nil {
		fn(b.me)
	}
}

// updatePost applies fn to every local copy of post id.
func (b *Blog) updatePost(id int64, fn func(domain.Post) domain.Post) {
	b.feed.loader.Update(id, fn)
	b.mu.Lock()
	view := b.posts[id]
	b.mu.Unlock()
	if view != nil {
		view.update(fn)
	}
}

// toggleLike runs the like button of post id. read returns the state the
// button currently shows.
func (b *Blog) toggleLike(ctx context.Context, id int64, read func() domain.LikeState) (optimistic.Outcome, error) {
	if !b.session.Authenticated() {
		return optimistic.OutcomeIgnored, ErrNotLoggedIn
	}

	var before domain.LikeState
	outcome, err := b.likes.Perform(ctx, optimistic.Mutation[domain.LikeState, blogapi.LikeResult]{
		Key: "post:" + strconv.FormatInt(id, 10),
		Read: func() domain.LikeState {
			before = read()
			return before
		},
		Apply: domain.LikeState.Toggled,
		Write: func(s domain.LikeState) {
			b.updatePost(id, func(p domain.Post) domain.Post { return p.WithLike(s) })
		},
		Request: func(ctx context.Context) (blogapi.LikeResult, error) {
			return b.api.Like(ctx, id)
		},
		Reconcile: func(guess domain.LikeState, truth blogapi.LikeResult) domain.LikeState {
			settled := truth.Reconcile(guess)
			if delta := likeDelta(before, settled); delta != 0 {
				b.adjustMe(func(u *domain.User) {
					u.LikedPostsCount = max(0, u.LikedPostsCount+delta)
				})
			}
			return settled
		},
		Equal: func(x, y domain.LikeState) bool { return x == y },
	})
	if err != nil {
		return outcome, fmt.Errorf("like post %d: %w", id, err)
	}
	return outcome, nil
}

func likeDelta(before, after domain.LikeState) int {
	switch {
	case after.Liked && !before.Liked:
		return 1
	case !after.Liked && before.Liked:
		return -1
	}
	return 0
}
