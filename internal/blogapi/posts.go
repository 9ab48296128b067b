package blogapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/desurestar/RSOD-project/internal/domain"
	"github.com/desurestar/RSOD-project/pkg/pagination"
	"github.com/desurestar/RSOD-project/pkg/validator"
)

// Ordering is the feed sort offered by the home page.
type Ordering string

const (
	OrderRelevance Ordering = "relevance"
	OrderLikes     Ordering = "likes"
	OrderViews     Ordering = "views"
)

var orderingParam = map[Ordering]string{
	OrderRelevance: "-created_at",
	OrderLikes:     "-likes",
	OrderViews:     "-views",
}

// PostFilter narrows the feed. Zero fields are not sent.
type PostFilter struct {
	PostType    domain.PostType `validate:"omitempty,oneof=recipe article"`
	MaxTime     int             `validate:"gte=0"`
	MaxCalories int             `validate:"gte=0"`
	Ordering    Ordering        `validate:"omitempty,oneof=relevance likes views"`
	Tags        []string
	Search      string
}

// Apply writes the filter's query parameters into q.
func (f PostFilter) Apply(q url.Values) {
	if f.PostType != "" {
		q.Set("post_type", string(f.PostType))
	}
	if f.MaxTime > 0 {
		q.Set("max_time", strconv.Itoa(f.MaxTime))
	}
	if f.MaxCalories > 0 {
		q.Set("max_calories", strconv.Itoa(f.MaxCalories))
	}
	if param, ok := orderingParam[f.Ordering]; ok {
		q.Set("ordering", param)
	}
	if len(f.Tags) > 0 {
		q.Set("tags", strings.Join(f.Tags, ","))
	}
	if f.Search != "" {
		q.Set("search", f.Search)
	}
}

// LikeResult is the server's answer to a like toggle. Liked is nil when the
// server does not report it.
type LikeResult struct {
	Status string `json:"status"`
	Likes  int    `json:"likes"`
	Liked  *bool  `json:"liked"`
}

// Reconcile merges the result into the optimistic state. The count is always
// the server's; the flag is kept from the guess when the server omits it.
func (r LikeResult) Reconcile(optimistic domain.LikeState) domain.LikeState {
	out := domain.LikeState{Likes: r.Likes, Liked: optimistic.Liked}
	if r.Liked != nil {
		out.Liked = *r.Liked
	}
	return out
}

// ListPosts fetches one feed page.
func (c *Client) ListPosts(ctx context.Context, filter PostFilter, req pagination.Request) (pagination.Page[domain.Post], error) {
	if err := validator.Check(filter); err != nil {
		return pagination.Page[domain.Post]{}, err
	}
	q := url.Values{}
	req.Apply(q)
	filter.Apply(q)
	return page[domain.Post](ctx, c, "list posts", "blog/posts/", q)
}

// Post fetches a single post.
func (c *Client) Post(ctx context.Context, id int64) (domain.Post, error) {
	var p domain.Post
	if err := c.call(ctx, "get post", http.MethodGet, fmt.Sprintf("blog/posts/%d/", id), nil, nil, &p); err != nil {
		return domain.Post{}, err
	}
	return p, nil
}

// Like toggles the caller's like on a post.
func (c *Client) Like(ctx context.Context, id int64) (LikeResult, error) {
	var out LikeResult
	if err := c.call(ctx, "like post", http.MethodPost, fmt.Sprintf("blog/posts/%d/likes/", id), nil, struct{}{}, &out); err != nil {
		return LikeResult{}, err
	}
	return out, nil
}
