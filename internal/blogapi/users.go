package blogapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/desurestar/RSOD-project/internal/domain"
	"github.com/desurestar/RSOD-project/pkg/pagination"
)

// FollowResult is the server's answer to a subscribe or unsubscribe call.
// Either field may be missing.
type FollowResult struct {
	Subscribed       *bool `json:"subscribed"`
	SubscribersCount *int  `json:"subscribers_count"`
}

// Reconcile merges the result into the optimistic state.
func (r FollowResult) Reconcile(optimistic domain.FollowState) domain.FollowState {
	out := optimistic
	if r.Subscribed != nil {
		out.Subscribed = *r.Subscribed
	}
	if r.SubscribersCount != nil {
		out.Subscribers = *r.SubscribersCount
	}
	return out
}

// User fetches a public profile.
func (c *Client) User(ctx context.Context, id int64) (domain.User, error) {
	var u domain.User
	if err := c.call(ctx, "get user", http.MethodGet, fmt.Sprintf("auth/users/%d/", id), nil, nil, &u); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// Subscribe follows a user.
func (c *Client) Subscribe(ctx context.Context, id int64) (FollowResult, error) {
	return c.follow(ctx, "subscribe", id)
}

// Unsubscribe stops following a user.
func (c *Client) Unsubscribe(ctx context.Context, id int64) (FollowResult, error) {
	return c.follow(ctx, "unsubscribe", id)
}

func (c *Client) follow(ctx context.Context, action string, id int64) (FollowResult, error) {
	var out FollowResult
	if err := c.call(ctx, action, http.MethodPost, fmt.Sprintf("auth/users/%d/%s/", id, action), nil, struct{}{}, &out); err != nil {
		return FollowResult{}, err
	}
	return out, nil
}

// Followers fetches one page of a user's subscribers.
func (c *Client) Followers(ctx context.Context, userID int64, req pagination.Request) (pagination.Page[domain.User], error) {
	return c.relations(ctx, "followers", userID, req)
}

// Following fetches one page of the users a user subscribes to.
func (c *Client) Following(ctx context.Context, userID int64, req pagination.Request) (pagination.Page[domain.User], error) {
	return c.relations(ctx, "following", userID, req)
}

func (c *Client) relations(ctx context.Context, kind string, userID int64, req pagination.Request) (pagination.Page[domain.User], error) {
	q := url.Values{}
	req.Apply(q)
	return page[domain.User](ctx, c, kind, fmt.Sprintf("auth/users/%d/%s/", userID, kind), q)
}

// UserPosts fetches one page of the posts a user wrote.
func (c *Client) UserPosts(ctx context.Context, userID int64, req pagination.Request) (pagination.Page[domain.Post], error) {
	return c.userPosts(ctx, "posts", userID, req)
}

// LikedPosts fetches one page of the posts a user liked.
func (c *Client) LikedPosts(ctx context.Context, userID int64, req pagination.Request) (pagination.Page[domain.Post], error) {
	return c.userPosts(ctx, "liked", userID, req)
}

func (c *Client) userPosts(ctx context.Context, kind string, userID int64, req pagination.Request) (pagination.Page[domain.Post], error) {
	q := url.Values{}
	req.Apply(q)
	return page[domain.Post](ctx, c, "user "+kind, fmt.Sprintf("auth/users/%d/%s/", userID, kind), q)
}
