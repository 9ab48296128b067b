package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/desurestar/RSOD-project/internal/blogapi"
	"github.com/desurestar/RSOD-project/internal/domain"
)

// FeedCmd lists the home feed.
type FeedCmd struct {
	Type        string   `help:"Only recipe or article posts"`
	MaxTime     int      `help:"Maximum cooking time in minutes"`
	MaxCalories int      `help:"Maximum calories"`
	Order       string   `help:"Sort order" enum:"relevance,likes,views" default:"relevance"`
	Tag         []string `help:"Tag name; repeat for several"`
	Search      string   `help:"Full text search" short:"s"`
	Pages       int      `help:"Number of pages to load" default:"1"`
	Format      string   `help:"Output format: table or json" enum:"table,json" default:"table"`
}

// Run executes the feed command
func (f *FeedCmd) Run(ctx context.Context, cli *CLI) error {
	a, err := cli.open(ctx)
	if err != nil {
		return err
	}
	feed := a.Blog.Feed()
	err = feed.SetFilter(ctx, blogapi.PostFilter{
		PostType:    domain.PostType(f.Type),
		MaxTime:     f.MaxTime,
		MaxCalories: f.MaxCalories,
		Ordering:    blogapi.Ordering(f.Order),
		Tags:        f.Tag,
		Search:      f.Search,
	})
	if err != nil {
		return fmt.Errorf("load feed: %w", err)
	}
	for page := 1; page < f.Pages && feed.State().HasNext; page++ {
		if err := feed.More(ctx); err != nil {
			return fmt.Errorf("load feed: %w", err)
		}
		if st := feed.State(); st.Err != nil {
			return fmt.Errorf("load feed page %d: %w", st.Page, st.Err)
		}
	}

	st := feed.State()
	if f.Format == "json" {
		return cli.printJSON(st.Items)
	}
	printPosts(cli, st.Items)
	if st.HasNext {
		// Page is the cursor of the next unloaded page.
		fmt.Fprintf(cli.out, "\n%d posts shown, more available with --pages=%d\n", len(st.Items), st.Page)
	} else {
		fmt.Fprintf(cli.out, "\nTotal: %d posts\n", len(st.Items))
	}
	return nil
}

func printPosts(cli *CLI, posts []domain.Post) {
	w := tabwriter.NewWriter(cli.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tTITLE\tAUTHOR\tLIKES\tCOMMENTS\tVIEWS\tCREATED")
	for _, p := range posts {
		likes := fmt.Sprintf("%d", p.LikesCount)
		if p.IsLiked {
			likes += " ♥"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			p.ID,
			p.PostType,
			p.Title,
			p.Author,
			likes,
			p.CommentsCount,
			p.ViewsCount,
			p.CreatedAt.Format("2006-01-02 15:04"))
	}
	w.Flush()
}

// PostCmd shows a post.
type PostCmd struct {
	ID     int64  `arg:"" help:"Post ID"`
	Format string `help:"Output format: text or json" enum:"text,json" default:"text"`
}

// Run executes the post command
func (p *PostCmd) Run(ctx context.Context, cli *CLI) error {
	a, err := cli.open(ctx)
	if err != nil {
		return err
	}
	view, err := a.Blog.OpenPost(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("load post: %w", err)
	}
	defer view.Close()

	post := view.Post()
	if p.Format == "json" {
		return cli.printJSON(post)
	}
	fmt.Fprintf(cli.out, "%s [%s] by %s\n", post.Title, post.PostType, post.Author)
	var facts []string
	if post.CookingTime != nil {
		facts = append(facts, fmt.Sprintf("%d min", *post.CookingTime))
	}
	if post.Calories != nil {
		facts = append(facts, fmt.Sprintf("%d kcal", *post.Calories))
	}
	for _, t := range post.Tags {
		facts = append(facts, "#"+t.Name)
	}
	if len(facts) > 0 {
		fmt.Fprintln(cli.out, strings.Join(facts, "  "))
	}
	fmt.Fprintf(cli.out, "likes: %d  comments: %d  views: %d\n\n", post.LikesCount, post.CommentsCount, post.ViewsCount)
	body := post.Content
	if body == "" {
		body = post.Excerpt
	}
	fmt.Fprintln(cli.out, body)
	return nil
}

// LikeCmd toggles a like.
type LikeCmd struct {
	ID int64 `arg:"" help:"Post ID"`
}

// Run executes the like command
func (l *LikeCmd) Run(ctx context.Context, cli *CLI) error {
	a, err := cli.open(ctx)
	if err != nil {
		return err
	}
	view, err := a.Blog.OpenPost(ctx, l.ID)
	if err != nil {
		return fmt.Errorf("load post: %w", err)
	}
	defer view.Close()

	outcome, err := view.Like(ctx)
	if err != nil {
		return fmt.Errorf("like post %d (%s): %w", l.ID, outcome, err)
	}
	state := view.Post().Like()
	verb := "Unliked"
	if state.Liked {
		verb = "Liked"
	}
	fmt.Fprintf(cli.out, "%s post %d, now %d likes\n", verb, l.ID, state.Likes)
	return nil
}
