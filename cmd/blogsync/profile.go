package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/desurestar/RSOD-project/internal/domain"
	"github.com/desurestar/RSOD-project/internal/paginate"
)

// ProfileCmd shows a user and optionally their relations and posts.
type ProfileCmd struct {
	ID        int64  `arg:"" help:"User ID"`
	Followers bool   `help:"List the user's subscribers"`
	Following bool   `help:"List the users this user follows"`
	Posts     bool   `help:"List the posts the user wrote"`
	Liked     bool   `help:"List the posts the user liked"`
	Format    string `help:"Output format: text or json" enum:"text,json" default:"text"`
}

// Run executes the profile command
func (p *ProfileCmd) Run(ctx context.Context, cli *CLI) error {
	a, err := cli.open(ctx)
	if err != nil {
		return err
	}
	view, err := a.Blog.OpenProfile(ctx, p.ID)
	if err != nil {
		return err
	}

	var followers, following []domain.User
	if p.Followers {
		if followers, err = loadAll(ctx, view.Followers); err != nil {
			return fmt.Errorf("load followers: %w", err)
		}
	}
	if p.Following {
		if following, err = loadAll(ctx, view.Following); err != nil {
			return fmt.Errorf("load following: %w", err)
		}
	}

	var posts, liked []domain.Post
	if p.Posts {
		if posts, err = loadAll(ctx, view.Posts); err != nil {
			return fmt.Errorf("load posts: %w", err)
		}
	}
	if p.Liked {
		if liked, err = loadAll(ctx, view.Liked); err != nil {
			return fmt.Errorf("load liked posts: %w", err)
		}
	}

	if p.Format == "json" {
		return cli.printJSON(struct {
			User      domain.User   `json:"user"`
			Followers []domain.User `json:"followers,omitempty"`
			Following []domain.User `json:"following,omitempty"`
			Posts     []domain.Post `json:"posts,omitempty"`
			Liked     []domain.Post `json:"liked,omitempty"`
		}{view.User(), followers, following, posts, liked})
	}
	u := view.User()
	printUser(cli, u)
	if u.IsSubscribed {
		fmt.Fprintln(cli.out, "  you follow this user")
	}
	if p.Followers {
		printUsers(cli, "Followers", followers)
	}
	if p.Following {
		printUsers(cli, "Following", following)
	}
	if p.Posts {
		fmt.Fprintf(cli.out, "\nPosts (%d)\n", len(posts))
		printPosts(cli, posts)
	}
	if p.Liked {
		fmt.Fprintf(cli.out, "\nLiked (%d)\n", len(liked))
		printPosts(cli, liked)
	}
	return nil
}

func loadAll[T paginate.Identified](ctx context.Context, l *paginate.Loader[T, int64]) ([]T, error) {
	if err := l.Load(ctx, true); err != nil {
		return nil, err
	}
	for l.State().HasNext {
		if err := l.Load(ctx, false); err != nil {
			return nil, err
		}
		if st := l.State(); st.Err != nil {
			return nil, st.Err
		}
	}
	return l.State().Items, nil
}

func printUsers(cli *CLI, title string, users []domain.User) {
	fmt.Fprintf(cli.out, "\n%s (%d)\n", title, len(users))
	w := tabwriter.NewWriter(cli.out, 0, 0, 2, ' ', 0)
	for _, u := range users {
		fmt.Fprintf(w, "  %d\t%s\t%d subscribers\n", u.ID, u.Username, u.SubscribersCount)
	}
	w.Flush()
}

// FollowCmd subscribes to a user.
type FollowCmd struct {
	ID int64 `arg:"" help:"User ID"`
}

// Run executes the follow command
func (f *FollowCmd) Run(ctx context.Context, cli *CLI) error {
	return setFollow(ctx, cli, f.ID, true)
}

// UnfollowCmd unsubscribes from a user.
type UnfollowCmd struct {
	ID int64 `arg:"" help:"User ID"`
}

// Run executes the unfollow command
func (u *UnfollowCmd) Run(ctx context.Context, cli *CLI) error {
	return setFollow(ctx, cli, u.ID, false)
}

func setFollow(ctx context.Context, cli *CLI, id int64, subscribe bool) error {
	a, err := cli.open(ctx)
	if err != nil {
		return err
	}
	if _, err := a.Blog.RefreshMe(ctx); err != nil {
		return err
	}
	view, err := a.Blog.OpenProfile(ctx, id)
	if err != nil {
		return err
	}
	if view.User().IsSubscribed == subscribe {
		fmt.Fprintf(cli.out, "Already %s %s\n", followVerb(subscribe), view.User().Username)
		return nil
	}
	outcome, err := view.ToggleFollow(ctx)
	if err != nil {
		return fmt.Errorf("%w (%s)", err, outcome)
	}
	u := view.User()
	fmt.Fprintf(cli.out, "Now %s %s, %d subscribers\n", followVerb(u.IsSubscribed), u.Username, u.SubscribersCount)
	return nil
}

func followVerb(subscribed bool) string {
	if subscribed {
		return "following"
	}
	return "not following"
}
