package service

import (
	"context"
	"fmt"

	"github.com/desurestar/RSOD-project/internal/blogapi"
	"github.com/desurestar/RSOD-project/internal/domain"
	"github.com/desurestar/RSOD-project/internal/optimistic"
	"github.com/desurestar/RSOD-project/internal/paginate"
)

// Feed is the filterable, infinitely scrolled post list of the home page.
type Feed struct {
	blog   *Blog
	loader *paginate.Loader[domain.Post, blogapi.PostFilter]
}

// Refresh reloads the feed from its first page.
func (f *Feed) Refresh(ctx context.Context) error {
	return f.loader.Load(ctx, true)
}

// More loads the next page. A failure is recorded in State().Err.
func (f *Feed) More(ctx context.Context) error {
	return f.loader.Load(ctx, false)
}

// Scrolled reports the last visible index and prefetches when it is near the end.
func (f *Feed) Scrolled(ctx context.Context, lastVisible int) error {
	return f.loader.NearEnd(ctx, lastVisible)
}

// SetFilter applies a new filter and reloads.
func (f *Feed) SetFilter(ctx context.Context, filter blogapi.PostFilter) error {
	return f.loader.SetFilter(ctx, filter)
}

// Filter returns the active filter.
func (f *Feed) Filter() blogapi.PostFilter {
	return f.loader.Filter()
}

// State returns a snapshot of the feed.
func (f *Feed) State() paginate.State[domain.Post] {
	return f.loader.State()
}

// Like toggles the like of a feed post.
func (f *Feed) Like(ctx context.Context, id int64) (optimistic.Outcome, error) {
	if _, ok := f.loader.Find(id); !ok {
		return optimistic.OutcomeIgnored, fmt.Errorf("like post %d: not in feed", id)
	}
	return f.blog.toggleLike(ctx, id, func() domain.LikeState {
		p, _ := f.loader.Find(id)
		return p.Like()
	})
}
