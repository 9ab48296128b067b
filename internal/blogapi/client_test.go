package blogapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/desurestar/RSOD-project/internal/credential"
	"github.com/desurestar/RSOD-project/internal/domain"
	"github.com/desurestar/RSOD-project/internal/fakeapi"
	"github.com/desurestar/RSOD-project/internal/session"
	apperrors "github.com/desurestar/RSOD-project/pkg/errors"
	"github.com/desurestar/RSOD-project/pkg/httpclient"
	"github.com/desurestar/RSOD-project/pkg/logger"
	"github.com/desurestar/RSOD-project/pkg/pagination"
)

type harness struct {
	api     *fakeapi.Server
	client  *Client
	session *session.Coordinator
	store   *credential.Memory
	alice   domain.User
}

// newHarness serves a fake API and points a session-aware client at it.
// Refreshes go through a second client without the session middlewares.
func newHarness(t *testing.T, opts ...fakeapi.Option) *harness {
	t.Helper()
	api := fakeapi.New(opts...)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	cfg := httpclient.DefaultConfig()
	cfg.MaxRetries = 0
	base := srv.URL + "/api/"

	auth, err := New(httpclient.NewWithHTTPClient(cfg, nil, srv.Client()), base, logger.Discard())
	require.NoError(t, err)

	store := credential.NewMemory(domain.Tokens{})
	sessionCfg := session.DefaultConfig()
	sessionCfg.BaseURL = base
	coord, err := session.New(store, auth, sessionCfg, logger.Discard())
	require.NoError(t, err)

	client, err := New(httpclient.NewWithHTTPClient(cfg, coord.Middlewares(), srv.Client()), base, logger.Discard())
	require.NoError(t, err)

	return &harness{
		api:     api,
		client:  client,
		session: coord,
		store:   store,
		alice:   api.AddUser("alice", "secret-pass"),
	}
}

func (h *harness) login(t *testing.T) {
	t.Helper()
	tokens, err := h.client.Login(context.Background(), Credentials{Username: "alice", Password: "secret-pass"})
	require.NoError(t, err)
	require.NoError(t, h.session.Establish(context.Background(), tokens))
}

func TestNew_RejectsRelativeBase(t *testing.T) {
	_, err := New(nil, "/api/", logger.Discard())
	assert.Error(t, err)

	c, err := New(nil, "http://localhost:8000/api", logger.Discard())
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8000/api/", c.BaseURL())
}

func TestLogin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tokens, err := h.client.Login(ctx, Credentials{Username: "alice", Password: "secret-pass"})
	require.NoError(t, err)
	assert.True(t, tokens.Complete())

	_, err = h.client.Login(ctx, Credentials{Username: "alice", Password: "nope"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrUnauthorized))
	assert.Contains(t, err.Error(), "No active account found")

	_, err = h.client.Login(ctx, Credentials{Username: "alice"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
	assert.Contains(t, apperrors.FieldErrors(err), "password")
	assert.Equal(t, 2, h.api.Hits(http.MethodPost, "/api/auth/token/"), "invalid input is not sent")
}

func TestRegister_BothShapes(t *testing.T) {
	ctx := context.Background()

	h := newHarness(t)
	reg, err := h.client.Register(ctx, Registration{Username: "bob", Email: "bob@example.com", Password: "long-enough"})
	require.NoError(t, err)
	assert.Equal(t, "bob", reg.User.Username)
	assert.NotZero(t, reg.User.ID)
	assert.True(t, reg.Tokens.Empty())

	_, err = h.client.Register(ctx, Registration{Username: "bob", Email: "bob@example.com", Password: "long-enough"})
	require.Error(t, err)
	assert.Contains(t, apperrors.FieldErrors(err), "username")

	h = newHarness(t, fakeapi.WithRegisterTokens())
	reg, err = h.client.Register(ctx, Registration{Username: "carol", Email: "carol@example.com", Password: "long-enough"})
	require.NoError(t, err)
	assert.Equal(t, "carol", reg.User.Username)
	assert.True(t, reg.Tokens.Complete())
}

func TestProfile_RefreshesExpiredAccess(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	before := h.session.Tokens()

	h.api.ExpireAccessTokens()
	u, err := h.client.Profile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, 1, h.api.Refreshes())
	assert.Equal(t, 2, h.api.Hits(http.MethodGet, "/api/auth/profile/"))

	after := h.session.Tokens()
	assert.NotEqual(t, before.Access, after.Access)
	assert.Equal(t, before.Refresh, after.Refresh, "refresh token kept when not rotated")
}

func TestProfile_ExpiredSession(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	h.api.ExpireAccessTokens()
	h.api.RevokeRefreshTokens()
	_, err := h.client.Profile(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrSessionExpired))
	assert.False(t, h.session.Authenticated())

	stored, err := h.store.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, stored.Empty())
}

func TestProfile_Anonymous(t *testing.T) {
	h := newHarness(t)
	_, err := h.client.Profile(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrUnauthorized))
}

func TestListPosts(t *testing.T) {
	h := newHarness(t)
	for range 3 {
		h.api.AddPost(h.alice.ID, domain.Post{Title: "Recipe"})
	}
	h.api.AddPost(h.alice.ID, domain.Post{Title: "Article", PostType: domain.PostTypeArticle})
	ctx := context.Background()

	p, err := h.client.ListPosts(ctx, PostFilter{PostType: domain.PostTypeRecipe}, pagination.Request{Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, p.Count)
	assert.Len(t, p.Results, 2)
	assert.True(t, p.HasNext())

	p, err = h.client.ListPosts(ctx, PostFilter{PostType: domain.PostTypeRecipe}, pagination.Request{Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, p.Results, 1)
	assert.False(t, p.HasNext())

	_, err = h.client.ListPosts(ctx, PostFilter{Ordering: "trending"}, pagination.DefaultRequest())
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))

	_, err = h.client.ListPosts(ctx, PostFilter{}, pagination.Request{Page: 9, PageSize: 2})
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestPostFilter_Apply(t *testing.T) {
	q := make(map[string][]string)
	PostFilter{
		PostType:    domain.PostTypeRecipe,
		MaxTime:     30,
		MaxCalories: 500,
		Ordering:    OrderLikes,
		Tags:        []string{"soup", "vegan"},
		Search:      "pho",
	}.Apply(q)

	assert.Equal(t, map[string][]string{
		"post_type":    {"recipe"},
		"max_time":     {"30"},
		"max_calories": {"500"},
		"ordering":     {"-likes"},
		"tags":         {"soup,vegan"},
		"search":       {"pho"},
	}, q)

	q = make(map[string][]string)
	PostFilter{Ordering: OrderRelevance}.Apply(q)
	assert.Equal(t, map[string][]string{"ordering": {"-created_at"}}, q)
}

func TestPostAndLike(t *testing.T) {
	h := newHarness(t)
	post := h.api.AddPost(h.alice.ID, domain.Post{Title: "Soup", LikesCount: 10})
	h.login(t)
	ctx := context.Background()

	got, err := h.client.Post(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, "Soup", got.Title)
	assert.Equal(t, "alice", got.Author)

	res, err := h.client.Like(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, 11, res.Likes)
	assert.Nil(t, res.Liked)
	assert.Equal(t, domain.LikeState{Likes: 11, Liked: true}, res.Reconcile(domain.LikeState{Likes: 11, Liked: true}))

	_, err = h.client.Post(ctx, 404)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestLikeResult_Reconcile(t *testing.T) {
	liked := false
	assert.Equal(t, domain.LikeState{Likes: 15, Liked: true}, LikeResult{Likes: 15}.Reconcile(domain.LikeState{Likes: 11, Liked: true}))
	assert.Equal(t, domain.LikeState{Likes: 15}, LikeResult{Likes: 15, Liked: &liked}.Reconcile(domain.LikeState{Likes: 11, Liked: true}))
}

func TestFollowResult_Reconcile(t *testing.T) {
	yes, n := true, 7
	guess := domain.FollowState{Subscribed: false, Subscribers: 2}
	assert.Equal(t, guess, FollowResult{}.Reconcile(guess))
	assert.Equal(t, domain.FollowState{Subscribed: true, Subscribers: 7}, FollowResult{Subscribed: &yes, SubscribersCount: &n}.Reconcile(guess))
}

func TestSubscriptions(t *testing.T) {
	h := newHarness(t)
	bob := h.api.AddUser("bob", "secret-pass")
	h.login(t)
	ctx := context.Background()

	res, err := h.client.Subscribe(ctx, bob.ID)
	require.NoError(t, err)
	require.NotNil(t, res.Subscribed)
	assert.True(t, *res.Subscribed)
	assert.True(t, h.api.Subscribed(h.alice.ID, bob.ID))

	u, err := h.client.User(ctx, bob.ID)
	require.NoError(t, err)
	assert.True(t, u.IsSubscribed)

	followers, err := h.client.Followers(ctx, bob.ID, pagination.DefaultRequest())
	require.NoError(t, err)
	require.Len(t, followers.Results, 1)
	assert.Equal(t, h.alice.ID, followers.Results[0].ID)

	following, err := h.client.Following(ctx, h.alice.ID, pagination.DefaultRequest())
	require.NoError(t, err)
	require.Len(t, following.Results, 1)
	assert.Equal(t, bob.ID, following.Results[0].ID)

	res, err = h.client.Unsubscribe(ctx, bob.ID)
	require.NoError(t, err)
	assert.False(t, *res.Subscribed)
	assert.False(t, h.api.Subscribed(h.alice.ID, bob.ID))
}

func TestUserPostLists(t *testing.T) {
	h := newHarness(t)
	bob := h.api.AddUser("bob", "secret-pass")
	h.api.AddPost(h.alice.ID, domain.Post{Title: "Soup"})
	stew := h.api.AddPost(bob.ID, domain.Post{Title: "Stew"})
	h.login(t)
	ctx := context.Background()

	_, err := h.client.Like(ctx, stew.ID)
	require.NoError(t, err)

	written, err := h.client.UserPosts(ctx, h.alice.ID, pagination.DefaultRequest())
	require.NoError(t, err)
	require.Len(t, written.Results, 1)
	assert.Equal(t, "Soup", written.Results[0].Title)

	liked, err := h.client.LikedPosts(ctx, h.alice.ID, pagination.DefaultRequest())
	require.NoError(t, err)
	require.Len(t, liked.Results, 1)
	assert.Equal(t, stew.ID, liked.Results[0].ID)
	assert.True(t, liked.Results[0].IsLiked)
}

func TestComments(t *testing.T) {
	for _, tc := range []struct {
		name string
		opts []fakeapi.Option
	}{
		{"bare list", nil},
		{"paginated", []fakeapi.Option{fakeapi.WithPaginatedComments(1)}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, tc.opts...)
			post := h.api.AddPost(h.alice.ID, domain.Post{Title: "Soup"})
			for _, text := range []string{"a", "b", "c"} {
				h.api.AddComment(h.alice.ID, domain.Comment{Post: post.ID, Content: text})
			}
			ctx := context.Background()

			list, err := h.client.Comments(ctx, post.ID)
			require.NoError(t, err)
			require.Len(t, list, 3)
			assert.Equal(t, "a", list[0].Content)
			assert.Equal(t, "c", list[2].Content)

			h.login(t)
			parent := list[0].ID
			created, err := h.client.CreateComment(ctx, post.ID, NewComment{Content: "reply", ParentComment: &parent})
			require.NoError(t, err)
			assert.Equal(t, "alice", created.Author)
			require.NotNil(t, created.ParentComment)
			assert.Equal(t, parent, *created.ParentComment)
		})
	}
}

func TestComments_StaysOnAPIOrigin(t *testing.T) {
	var foreignAuth atomic.Value
	foreignAuth.Store("")
	foreign := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		foreignAuth.Store(r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	t.Cleanup(foreign.Close)

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"count":2,"next":%q,"previous":null,"results":[{"id":1,"post":1,"content":"a"}]}`, foreign.URL+"/steal/")
	}))
	t.Cleanup(api.Close)

	cfg := httpclient.DefaultConfig()
	cfg.MaxRetries = 0
	base := api.URL + "/api/"
	sessionCfg := session.DefaultConfig()
	sessionCfg.BaseURL = base
	coord, err := session.New(credential.NewMemory(domain.Tokens{Access: "secret-access", Refresh: "r1"}), nil, sessionCfg, logger.Discard())
	require.NoError(t, err)
	require.NoError(t, coord.Hydrate(context.Background()))
	client, err := New(httpclient.NewWithHTTPClient(cfg, coord.Middlewares(), api.Client()), base, logger.Discard())
	require.NoError(t, err)

	_, err = client.Comments(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "leaves")
	assert.Empty(t, foreignAuth.Load(), "no credentials sent to another host")
}

func TestCreateComment_Rejected(t *testing.T) {
	h := newHarness(t)
	post := h.api.AddPost(h.alice.ID, domain.Post{Title: "Soup"})
	h.login(t)
	ctx := context.Background()

	missing := int64(99)
	_, err := h.client.CreateComment(ctx, post.ID, NewComment{Content: "reply", ParentComment: &missing})
	require.Error(t, err)
	assert.Contains(t, apperrors.FieldErrors(err), "parent_comment")

	_, err = h.client.CreateComment(ctx, post.ID, NewComment{})
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
	assert.Equal(t, 1, h.api.Hits(http.MethodPost, "/api/blog/posts/1/comments/"))
}

func TestUpdateAndDeleteComment(t *testing.T) {
	h := newHarness(t)
	post := h.api.AddPost(h.alice.ID, domain.Post{Title: "Soup"})
	h.login(t)
	ctx := context.Background()

	c, err := h.client.CreateComment(ctx, post.ID, NewComment{Content: "tpyo"})
	require.NoError(t, err)

	_, err = h.client.UpdateComment(ctx, c.ID, EditComment{})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Zero(t, h.api.Hits(http.MethodPut, "/api/blog/comments/1/"))

	edited, err := h.client.UpdateComment(ctx, c.ID, EditComment{Content: "typo"})
	require.NoError(t, err)
	assert.Equal(t, c.ID, edited.ID)
	assert.Equal(t, "typo", edited.Content)

	require.NoError(t, h.client.DeleteComment(ctx, c.ID))
	list, err := h.client.Comments(ctx, post.ID)
	require.NoError(t, err)
	assert.Empty(t, list)

	err = h.client.DeleteComment(ctx, c.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestServerError(t *testing.T) {
	h := newHarness(t)
	h.api.FailNext(http.MethodGet, "/api/blog/posts/1/", http.StatusServiceUnavailable)

	_, err := h.client.Post(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrServiceUnavail))
}
