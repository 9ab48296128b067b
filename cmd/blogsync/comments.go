package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/desurestar/RSOD-project/internal/comments"
	"github.com/desurestar/RSOD-project/internal/service"
)

// CommentsCmd prints a post's comment tree.
type CommentsCmd struct {
	PostID int64 `arg:"" help:"Post ID"`
	All    bool  `help:"Show every reply instead of the reply window" short:"a"`
}

// Run executes the comments command
func (c *CommentsCmd) Run(ctx context.Context, cli *CLI) error {
	a, err := cli.open(ctx)
	if err != nil {
		return err
	}
	thread, err := a.Blog.OpenThread(ctx, c.PostID)
	if err != nil {
		return err
	}
	for _, root := range thread.Roots() {
		c.printNode(cli, thread, root, 0)
	}
	fmt.Fprintf(cli.out, "\nTotal: %d comments\n", thread.Len())
	return nil
}

func (c *CommentsCmd) printNode(cli *CLI, thread *service.ThreadView, n *comments.Node, depth int) {
	indent := strings.Repeat("  ", depth)
	fmt.Fprintf(cli.out, "%s#%d %s, %s\n", indent, n.Comment.ID, n.Comment.Author, n.Comment.CreatedAt.Format("2006-01-02 15:04"))
	for _, line := range strings.Split(n.Comment.Content, "\n") {
		fmt.Fprintf(cli.out, "%s  %s\n", indent, line)
	}

	replies, hidden := thread.Visible(n)
	if hidden > 0 && c.All {
		thread.ToggleReplies(n.Comment.ID)
		replies, hidden = thread.Visible(n)
	}
	for _, r := range replies {
		c.printNode(cli, thread, r, depth+1)
	}
	if hidden > 0 {
		fmt.Fprintf(cli.out, "%s  ... %d more replies (use --all)\n", indent, hidden)
	}
}

// CommentCmd adds a comment.
type CommentCmd struct {
	PostID  int64  `arg:"" help:"Post ID"`
	Content string `arg:"" help:"Comment text"`
	Parent  int64  `help:"Reply to this comment ID"`
}

// Run executes the comment command
func (c *CommentCmd) Run(ctx context.Context, cli *CLI) error {
	a, err := cli.open(ctx)
	if err != nil {
		return err
	}
	thread, err := a.Blog.OpenThread(ctx, c.PostID)
	if err != nil {
		return err
	}
	var parent *int64
	if c.Parent > 0 {
		parent = &c.Parent
	}
	created, err := thread.Comment(ctx, c.Content, parent)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "Posted comment #%d on post %d\n", created.ID, c.PostID)
	return nil
}

// CommentEditCmd replaces the text of one of your comments.
type CommentEditCmd struct {
	PostID    int64  `arg:"" help:"Post ID"`
	CommentID int64  `arg:"" help:"Comment ID"`
	Content   string `arg:"" help:"New comment text"`
}

// Run executes the comment-edit command
func (c *CommentEditCmd) Run(ctx context.Context, cli *CLI) error {
	a, err := cli.open(ctx)
	if err != nil {
		return err
	}
	thread, err := a.Blog.OpenThread(ctx, c.PostID)
	if err != nil {
		return err
	}
	if _, err := thread.Edit(ctx, c.CommentID, c.Content); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "Edited comment #%d\n", c.CommentID)
	return nil
}

// CommentDeleteCmd removes one of your comments and its replies.
type CommentDeleteCmd struct {
	PostID    int64 `arg:"" help:"Post ID"`
	CommentID int64 `arg:"" help:"Comment ID"`
}

// Run executes the comment-delete command
func (c *CommentDeleteCmd) Run(ctx context.Context, cli *CLI) error {
	a, err := cli.open(ctx)
	if err != nil {
		return err
	}
	thread, err := a.Blog.OpenThread(ctx, c.PostID)
	if err != nil {
		return err
	}
	if err := thread.Delete(ctx, c.CommentID); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "Deleted comment #%d, %d comments left\n", c.CommentID, thread.Len())
	return nil
}
