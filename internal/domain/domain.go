// Package domain holds the API resources shared by the client packages.
package domain

import "time"

// Tokens is the credential pair held by a session. Both are present or both are empty.
type Tokens struct {
	Access          string    `json:"access"`
	Refresh         string    `json:"refresh"`
	AccessExpiresAt time.Time `json:"access_expires_at,omitempty"`
}

// Empty reports whether no credentials are held.
func (t Tokens) Empty() bool {
	return t.Access == "" && t.Refresh == ""
}

// Complete reports whether both tokens are present.
func (t Tokens) Complete() bool {
	return t.Access != "" && t.Refresh != ""
}

// User is a blog account as returned by auth/profile/ and follower lists.
type User struct {
	ID                 int64   `json:"id"`
	Username           string  `json:"username"`
	Email              string  `json:"email,omitempty"`
	DisplayName        string  `json:"display_name,omitempty"`
	AvatarURL          *string `json:"avatar_url,omitempty"`
	Role               string  `json:"role,omitempty"`
	IsAdmin            bool    `json:"is_admin"`
	SubscribersCount   int     `json:"subscribers_count"`
	SubscriptionsCount int     `json:"subscriptions_count"`
	PostsCount         int     `json:"posts_count"`
	LikedPostsCount    int     `json:"liked_posts_count"`
	IsSubscribed       bool    `json:"is_subscribed"`
}

// ItemID lets users be paged through the collection loader.
func (u User) ItemID() int64 { return u.ID }

// Tag labels a post.
type Tag struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// PostType distinguishes recipes from articles.
type PostType string

const (
	PostTypeRecipe  PostType = "recipe"
	PostTypeArticle PostType = "article"
)

// Post is a feed entry.
type Post struct {
	ID            int64     `json:"id"`
	PostType      PostType  `json:"post_type"`
	Title         string    `json:"title"`
	Excerpt       string    `json:"excerpt"`
	Content       string    `json:"content,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	Author        string    `json:"author"`
	Tags          []Tag     `json:"tags,omitempty"`
	LikesCount    int       `json:"likes_count"`
	IsLiked       bool      `json:"is_liked"`
	CommentsCount int       `json:"comments_count"`
	ViewsCount    int       `json:"views_count"`
	Calories      *int      `json:"calories,omitempty"`
	CookingTime   *int      `json:"cooking_time,omitempty"`
}

// ItemID lets posts be paged through the collection loader.
func (p Post) ItemID() int64 { return p.ID }

// Like returns the post's like state.
func (p Post) Like() LikeState {
	return LikeState{Likes: p.LikesCount, Liked: p.IsLiked}
}

// WithLike returns a copy of p carrying s.
func (p Post) WithLike(s LikeState) Post {
	p.LikesCount = s.Likes
	p.IsLiked = s.Liked
	return p
}

// Comment is one entry of a post's flat comment list.
type Comment struct {
	ID            int64     `json:"id"`
	Post          int64     `json:"post"`
	Author        string    `json:"author"`
	Content       string    `json:"content"`
	CreatedAt     time.Time `json:"created_at"`
	ParentComment *int64    `json:"parent_comment"`
}

// LikeState is the toggle state of a post's like button.
type LikeState struct {
	Likes int  `json:"likes"`
	Liked bool `json:"liked"`
}

// Toggled is the optimistic guess for a click on the like button.
func (s LikeState) Toggled() LikeState {
	if s.Liked {
		s.Likes = max(0, s.Likes-1)
	} else {
		s.Likes++
	}
	s.Liked = !s.Liked
	return s
}

// FollowState is the toggle state of a subscribe button.
type FollowState struct {
	Subscribed  bool `json:"subscribed"`
	Subscribers int  `json:"subscribers_count"`
}

// Toggled is the optimistic guess for a click on the subscribe button.
func (s FollowState) Toggled() FollowState {
	if s.Subscribed {
		s.Subscribers = max(0, s.Subscribers-1)
	} else {
		s.Subscribers++
	}
	s.Subscribed = !s.Subscribed
	return s
}
