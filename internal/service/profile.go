package service

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/desurestar/RSOD-project/internal/blogapi"
	"github.com/desurestar/RSOD-project/internal/domain"
	"github.com/desurestar/RSOD-project/internal/optimistic"
	"github.com/desurestar/RSOD-project/internal/paginate"
)

// ProfileView is a user's profile page with its follower lists and post tabs.
type ProfileView struct {
	blog *Blog
	id   int64

	// Followers and Following page through the user's relations.
	Followers *paginate.Loader[domain.User, int64]
	Following *paginate.Loader[domain.User, int64]

	// Posts and Liked page through what the user wrote and liked.
	Posts *paginate.Loader[domain.Post, int64]
	Liked *paginate.Loader[domain.Post, int64]

	mu   sync.Mutex
	user domain.User
}

// OpenProfile loads a user's profile. The lists are not fetched until the
// caller loads them.
func (b *Blog) OpenProfile(ctx context.Context, id int64) (*ProfileView, error) {
	u, err := b.api.User(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("open profile %d: %w", id, err)
	}
	cfg := paginate.Config{PageSize: b.cfg.FeedPageSize}
	followers, following, posts, liked := cfg, cfg, cfg, cfg
	followers.Name, following.Name = "followers", "following"
	posts.Name, liked.Name = "posts", "liked"

	return &ProfileView{
		blog:      b,
		id:        id,
		user:      u,
		Followers: paginate.New(b.api.Followers, id, followers, b.logger),
		Following: paginate.New(b.api.Following, id, following, b.logger),
		Posts:     paginate.New(b.api.UserPosts, id, posts, b.logger),
		Liked:     paginate.New(b.api.LikedPosts, id, liked, b.logger),
	}, nil
}

// User returns the profile as currently shown.
func (v *ProfileView) User() domain.User {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.user
}

// ToggleFollow subscribes to or unsubscribes from the user.
func (v *ProfileView) ToggleFollow(ctx context.Context) (optimistic.Outcome, error) {
	b := v.blog
	if !b.session.Authenticated() {
		return optimistic.OutcomeIgnored, ErrNotLoggedIn
	}
	if me, ok := b.Me(); ok && me.ID == v.id {
		return optimistic.OutcomeIgnored, fmt.Errorf("follow user %d: cannot follow yourself", v.id)
	}

	var before domain.FollowState
	outcome, err := b.follows.Perform(ctx, optimistic.Mutation[domain.FollowState, blogapi.FollowResult]{
		Key: "user:" + strconv.FormatInt(v.id, 10),
		Read: func() domain.FollowState {
			before = v.followState()
			return before
		},
		Apply: domain.FollowState.Toggled,
		Write: v.setFollowState,
		Request: func(ctx context.Context) (blogapi.FollowResult, error) {
			if before.Subscribed {
				return b.api.Unsubscribe(ctx, v.id)
			}
			return b.api.Subscribe(ctx, v.id)
		},
		Reconcile: func(guess domain.FollowState, truth blogapi.FollowResult) domain.FollowState {
			settled := truth.Reconcile(guess)
			if settled.Subscribed != before.Subscribed {
				delta := 1
				if !settled.Subscribed {
					delta = -1
				}
				b.adjustMe(func(u *domain.User) {
					u.SubscriptionsCount = max(0, u.SubscriptionsCount+delta)
				})
			}
			return settled
		},
		Equal: func(x, y domain.FollowState) bool { return x == y },
	})
	if err != nil {
		return outcome, fmt.Errorf("follow user %d: %w", v.id, err)
	}
	return outcome, nil
}

func (v *ProfileView) followState() domain.FollowState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return domain.FollowState{Subscribed: v.user.IsSubscribed, Subscribers: v.user.SubscribersCount}
}

func (v *ProfileView) setFollowState(s domain.FollowState) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.user.IsSubscribed = s.Subscribed
	v.user.SubscribersCount = s.Subscribers
}
