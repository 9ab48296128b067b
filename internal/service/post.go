package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/desurestar/RSOD-project/internal/domain"
	"github.com/desurestar/RSOD-project/internal/optimistic"
)

// PostView is an open post page.
type PostView struct {
	blog *Blog

	mu   sync.Mutex
	post domain.Post
}

// OpenPost loads a post and keeps it in sync with the feed while open.
func (b *Blog) OpenPost(ctx context.Context, id int64) (*PostView, error) {
	p, err := b.api.Post(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("open post %d: %w", id, err)
	}
	v := &PostView{blog: b, post: p}

	b.mu.Lock()
	b.posts[id] = v
	b.mu.Unlock()
	// The feed copy may be older than what was just fetched.
	b.feed.loader.Update(id, func(domain.Post) domain.Post { return p })
	return v, nil
}

// Close stops syncing the view.
func (v *PostView) Close() {
	v.blog.mu.Lock()
	defer v.blog.mu.Unlock()
	if v.blog.posts[v.ID()] == v {
		delete(v.blog.posts, v.ID())
	}
}

// ID returns the post id.
func (v *PostView) ID() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.post.ID
}

// Post returns the current state of the post.
func (v *PostView) Post() domain.Post {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.post
}

// Like toggles the post's like.
func (v *PostView) Like(ctx context.Context) (optimistic.Outcome, error) {
	return v.blog.toggleLike(ctx, v.ID(), func() domain.LikeState {
		return v.Post().Like()
	})
}

func (v *PostView) update(fn func(domain.Post) domain.Post) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.post = fn(v.post)
}
