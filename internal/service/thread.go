package service

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/desurestar/RSOD-project/internal/blogapi"
	"github.com/desurestar/RSOD-project/internal/comments"
	"github.com/desurestar/RSOD-project/internal/domain"
)

// ThreadView is the comment section of a post.
type ThreadView struct {
	blog   *Blog
	postID int64
	thread *comments.Thread

	mu   sync.Mutex
	list []domain.Comment
}

// OpenThread loads the comments of a post.
func (b *Blog) OpenThread(ctx context.Context, postID int64) (*ThreadView, error) {
	v := &ThreadView{
		blog:   b,
		postID: postID,
		thread: comments.NewThread(nil, b.cfg.ReplyWindow),
	}
	if err := v.Reload(ctx); err != nil {
		return nil, err
	}
	return v, nil
}

// Reload fetches the flat list again and rebuilds the tree. Expanded replies
// stay expanded.
func (v *ThreadView) Reload(ctx context.Context) error {
	list, err := v.blog.api.Comments(ctx, v.postID)
	if err != nil {
		return fmt.Errorf("load comments of post %d: %w", v.postID, err)
	}
	v.mu.Lock()
	v.list = list
	v.mu.Unlock()
	v.thread.Replace(comments.BuildTree(list))
	return nil
}

// Roots returns the top-level comments.
func (v *ThreadView) Roots() []*comments.Node {
	return v.thread.Roots()
}

// Visible returns the replies of n to show and how many are hidden behind
// "show all replies".
func (v *ThreadView) Visible(n *comments.Node) ([]*comments.Node, int) {
	return v.thread.Visible(n)
}

// ToggleReplies flips "show all replies" of comment id.
func (v *ThreadView) ToggleReplies(id int64) bool {
	return v.thread.Toggle(id)
}

// Len returns the number of comments held.
func (v *ThreadView) Len() int {
	return v.thread.Len()
}

// Comment posts a comment, or a reply when parent is non-nil. The new comment
// is added to the local list, the tree is rebuilt and the post's comment
// count is bumped wherever the post is shown.
func (v *ThreadView) Comment(ctx context.Context, content string, parent *int64) (domain.Comment, error) {
	if !v.blog.session.Authenticated() {
		return domain.Comment{}, ErrNotLoggedIn
	}
	c, err := v.blog.api.CreateComment(ctx, v.postID, blogapi.NewComment{Content: content, ParentComment: parent})
	if err != nil {
		return domain.Comment{}, fmt.Errorf("comment on post %d: %w", v.postID, err)
	}

	v.mu.Lock()
	v.list = append(slices.Clone(v.list), c)
	list := v.list
	v.mu.Unlock()
	v.thread.Replace(comments.BuildTree(list))

	v.blog.updatePost(v.postID, func(p domain.Post) domain.Post {
		p.CommentsCount++
		return p
	})
	return c, nil
}

// Edit replaces the text of comment id. The server's copy replaces the local
// one and the tree is rebuilt.
func (v *ThreadView) Edit(ctx context.Context, id int64, content string) (domain.Comment, error) {
	if !v.blog.session.Authenticated() {
		return domain.Comment{}, ErrNotLoggedIn
	}
	c, err := v.blog.api.UpdateComment(ctx, id, blogapi.EditComment{Content: content})
	if err != nil {
		return domain.Comment{}, fmt.Errorf("edit comment %d: %w", id, err)
	}

	v.mu.Lock()
	list := slices.Clone(v.list)
	if i := slices.IndexFunc(list, func(x domain.Comment) bool { return x.ID == id }); i >= 0 {
		list[i] = c
	}
	v.list = list
	v.mu.Unlock()
	v.thread.Replace(comments.BuildTree(list))
	return c, nil
}

// Delete removes comment id and the replies below it, which the server
// deletes with it. The post's comment count drops by the number removed,
// never below zero.
func (v *ThreadView) Delete(ctx context.Context, id int64) error {
	if !v.blog.session.Authenticated() {
		return ErrNotLoggedIn
	}
	if err := v.blog.api.DeleteComment(ctx, id); err != nil {
		return fmt.Errorf("delete comment %d: %w", id, err)
	}

	v.mu.Lock()
	list, removed := withoutSubtree(v.list, id)
	v.list = list
	v.mu.Unlock()
	v.thread.Replace(comments.BuildTree(list))

	if removed > 0 {
		v.blog.updatePost(v.postID, func(p domain.Post) domain.Post {
			p.CommentsCount = max(0, p.CommentsCount-removed)
			return p
		})
	}
	return nil
}

// withoutSubtree returns a copy of list without id and its descendants.
func withoutSubtree(list []domain.Comment, id int64) ([]domain.Comment, int) {
	if !slices.ContainsFunc(list, func(c domain.Comment) bool { return c.ID == id }) {
		return list, 0
	}
	gone := map[int64]bool{id: true}
	for changed := true; changed; {
		changed = false
		for _, c := range list {
			if !gone[c.ID] && c.ParentComment != nil && gone[*c.ParentComment] {
				gone[c.ID] = true
				changed = true
			}
		}
	}
	out := slices.DeleteFunc(slices.Clone(list), func(c domain.Comment) bool { return gone[c.ID] })
	return out, len(gone)
}
