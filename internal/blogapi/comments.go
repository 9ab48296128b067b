package blogapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/desurestar/RSOD-project/internal/domain"
	"github.com/desurestar/RSOD-project/pkg/validator"
)

// NewComment is a comment submission. ParentComment is nil for a top-level comment.
type NewComment struct {
	Content       string `json:"content" validate:"required,max=5000"`
	ParentComment *int64 `json:"parent_comment"`
}

// Comments returns the complete flat comment list of a post. Paginated and
// bare-list answers are both accepted; every page is fetched.
func (c *Client) Comments(ctx context.Context, postID int64) ([]domain.Comment, error) {
	list, err := all[domain.Comment](ctx, c, "list comments", fmt.Sprintf("blog/posts/%d/comments/", postID))
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []domain.Comment{}
	}
	return list, nil
}

// CreateComment posts a comment or a reply.
func (c *Client) CreateComment(ctx context.Context, postID int64, in NewComment) (domain.Comment, error) {
	if err := validator.Check(in); err != nil {
		return domain.Comment{}, err
	}
	var out domain.Comment
	if err := c.call(ctx, "create comment", http.MethodPost, fmt.Sprintf("blog/posts/%d/comments/", postID), nil, in, &out); err != nil {
		return domain.Comment{}, err
	}
	return out, nil
}

// EditComment is a comment correction.
type EditComment struct {
	Content string `json:"content" validate:"required,max=5000"`
}

// UpdateComment replaces the text of a comment and returns it as stored.
func (c *Client) UpdateComment(ctx context.Context, id int64, in EditComment) (domain.Comment, error) {
	if err := validator.Check(in); err != nil {
		return domain.Comment{}, err
	}
	var out domain.Comment
	if err := c.call(ctx, "update comment", http.MethodPut, fmt.Sprintf("blog/comments/%d/", id), nil, in, &out); err != nil {
		return domain.Comment{}, err
	}
	return out, nil
}

// DeleteComment removes a comment.
func (c *Client) DeleteComment(ctx context.Context, id int64) error {
	return c.call(ctx, "delete comment", http.MethodDelete, fmt.Sprintf("blog/comments/%d/", id), nil, nil, nil)
}
