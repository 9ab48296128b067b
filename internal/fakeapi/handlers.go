package fakeapi

import (
	"cmp"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/desurestar/RSOD-project/internal/domain"
	apperrors "github.com/desurestar/RSOD-project/pkg/errors"
	"github.com/desurestar/RSOD-project/pkg/httputil"
	"github.com/desurestar/RSOD-project/pkg/middleware"
	"github.com/desurestar/RSOD-project/pkg/pagination"
	"github.com/desurestar/RSOD-project/pkg/validator"
)

// Handler returns the API mounted under /api/.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(s.logger))
	r.Use(middleware.RequestLogging(s.logger))
	r.Use(middleware.Tracing("fakeapi"))
	r.Use(middleware.PrometheusMetrics("fakeapi"))
	r.Use(s.inject)
	r.Use(middleware.Bearer(s.validateAccess))

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/token/", s.login)
			r.Post("/token/refresh/", s.refresh)
			r.Post("/register/", s.register)
			r.With(middleware.RequireAuth).Get("/profile/", s.profile)

			r.Get("/users/{id}/", s.user)
			r.With(middleware.RequireAuth).Post("/users/{id}/subscribe/", s.subscribe(true))
			r.With(middleware.RequireAuth).Post("/users/{id}/unsubscribe/", s.subscribe(false))
			r.Get("/users/{id}/followers/", s.relations(true))
			r.Get("/users/{id}/following/", s.relations(false))
			r.Get("/users/{id}/posts/", s.userPosts(false))
			r.Get("/users/{id}/liked/", s.userPosts(true))
		})

		r.Route("/blog/posts", func(r chi.Router) {
			r.Get("/", s.listPosts)
			r.Get("/{id}/", s.getPost)
			r.With(middleware.RequireAuth).Post("/{id}/likes/", s.like)
			r.Get("/{id}/comments/", s.listComments)
			r.With(middleware.RequireAuth).Post("/{id}/comments/", s.createComment)
		})

		r.Route("/blog/comments", func(r chi.Router) {
			r.Use(middleware.RequireAuth)
			r.Put("/{id}/", s.updateComment)
			r.Delete("/{id}/", s.deleteComment)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteDetail(w, http.StatusNotFound, "Not found.")
	})
	return r
}

func writeStatus(w http.ResponseWriter, status int) {
	httputil.WriteDetail(w, status, http.StatusText(status))
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httputil.WriteDetail(w, http.StatusBadRequest, fmt.Sprintf("JSON parse error - %s", err))
		return false
	}
	return true
}

func (s *Server) caller(r *http.Request) int64 {
	if p, ok := middleware.PrincipalFromContext(r.Context()); ok {
		return p.UserID
	}
	return 0
}

// --- auth ---

type credentials struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if !decodeBody(w, r, &in) {
		return
	}
	if err := validator.Check(in); err != nil {
		httputil.WriteError(w, r, err, s.logger)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byName[in.Username]
	if !ok || s.users[id].password != in.Password {
		httputil.WriteDetail(w, http.StatusUnauthorized, "No active account found with the given credentials")
		return
	}
	tokens, err := s.issueLocked(id)
	if err != nil {
		httputil.WriteError(w, r, apperrors.Internal(err), s.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"access": tokens.Access, "refresh": tokens.Refresh})
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Refresh string `json:"refresh" validate:"required"`
	}
	if !decodeBody(w, r, &in) {
		return
	}
	if err := validator.Check(in); err != nil {
		httputil.WriteError(w, r, err, s.logger)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	claims, err := s.parseLocked(in.Refresh, "refresh")
	if err != nil {
		httputil.WriteJSON(w, http.StatusUnauthorized, httputil.Detail{Detail: "Token is invalid or expired", Code: "token_not_valid"})
		return
	}

	issued, err := s.issueLocked(claims.UserID)
	if err != nil {
		httputil.WriteError(w, r, apperrors.Internal(err), s.logger)
		return
	}
	s.refreshes++

	out := map[string]string{"access": issued.Access}
	if s.rotateRefresh {
		s.revoked[claims.ID] = true
		out["refresh"] = issued.Refresh
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

type registration struct {
	Username string `json:"username" validate:"required,max=150"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var in registration
	if !decodeBody(w, r, &in) {
		return
	}
	if err := validator.Check(in); err != nil {
		httputil.WriteError(w, r, err, s.logger)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byName[in.Username]; taken {
		httputil.WriteFieldErrors(w, map[string][]string{"username": {"A user with that username already exists."}})
		return
	}
	u := s.addUserLocked(in.Username, in.Email, in.Password)

	if !s.registerTokens {
		httputil.WriteJSON(w, http.StatusCreated, map[string]any{"id": u.ID, "username": u.Username})
		return
	}
	tokens, err := s.issueLocked(u.ID)
	if err != nil {
		httputil.WriteError(w, r, apperrors.Internal(err), s.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]any{
		"tokens": map[string]string{"access": tokens.Access, "refresh": tokens.Refresh},
		"user":   s.viewUserLocked(u.ID, u.ID),
	})
}

// --- users ---

// viewUserLocked renders id's profile as seen by viewer (0 for anonymous).
func (s *Server) viewUserLocked(id, viewer int64) domain.User {
	a := s.users[id]
	u := a.user
	u.SubscribersCount = len(a.followers)
	u.SubscriptionsCount = len(a.following)
	u.IsSubscribed = viewer != 0 && a.followers[viewer]
	u.PostsCount, u.LikedPostsCount = 0, 0
	for _, p := range s.posts {
		if p.authorID == id {
			u.PostsCount++
		}
		if p.likedBy[id] {
			u.LikedPostsCount++
		}
	}
	return u
}

func (s *Server) profile(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.caller(r)
	httputil.WriteJSON(w, http.StatusOK, s.viewUserLocked(id, id))
}

func (s *Server) lookupUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := httputil.ParseID(w, chi.URLParam(r, "id"))
	if !ok {
		return 0, false
	}
	if _, exists := s.users[id]; !exists {
		httputil.WriteDetail(w, http.StatusNotFound, "No User matches the given query.")
		return 0, false
	}
	return id, true
}

func (s *Server) user(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.lookupUser(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, s.viewUserLocked(id, s.caller(r)))
}

func (s *Server) subscribe(follow bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		target, ok := s.lookupUser(w, r)
		if !ok {
			return
		}
		me := s.caller(r)
		if me == target {
			httputil.WriteDetail(w, http.StatusBadRequest, "You cannot subscribe to yourself.")
			return
		}

		if follow {
			s.users[target].followers[me] = true
			s.users[me].following[target] = true
		} else {
			delete(s.users[target].followers, me)
			delete(s.users[me].following, target)
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"subscribed":        follow,
			"subscribers_count": len(s.users[target].followers),
		})
	}
}

func (s *Server) relations(followers bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		id, ok := s.lookupUser(w, r)
		if !ok {
			return
		}

		set := s.users[id].following
		if followers {
			set = s.users[id].followers
		}
		ids := make([]int64, 0, len(set))
		for uid := range set {
			ids = append(ids, uid)
		}
		slices.Sort(ids)

		viewer := s.caller(r)
		all := make([]domain.User, 0, len(ids))
		for _, uid := range ids {
			all = append(all, s.viewUserLocked(uid, viewer))
		}
		writePage(w, r, all, httputil.ParsePage(r, DefaultPageSize, MaxPageSize))
	}
}

// userPosts lists the posts id wrote, or liked when liked is set, newest first.
func (s *Server) userPosts(liked bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		id, ok := s.lookupUser(w, r)
		if !ok {
			return
		}

		viewer := s.caller(r)
		all := make([]domain.Post, 0)
		for _, rec := range s.posts {
			if (liked && rec.likedBy[id]) || (!liked && rec.authorID == id) {
				all = append(all, s.viewPostLocked(rec, viewer))
			}
		}
		orderPosts(all, "")
		writePage(w, r, all, httputil.ParsePage(r, DefaultPageSize, MaxPageSize))
	}
}

// --- posts ---

func (s *Server) viewPostLocked(rec *postRecord, viewer int64) domain.Post {
	p := rec.post
	p.IsLiked = viewer != 0 && rec.likedBy[viewer]
	return p
}

func matches(p domain.Post, q map[string][]string) bool {
	get := func(k string) string {
		if v := q[k]; len(v) > 0 {
			return v[0]
		}
		return ""
	}

	if t := get("post_type"); t != "" && string(p.PostType) != t {
		return false
	}
	if v, err := strconv.Atoi(get("max_time")); err == nil && (p.CookingTime == nil || *p.CookingTime > v) {
		return false
	}
	if v, err := strconv.Atoi(get("max_calories")); err == nil && (p.Calories == nil || *p.Calories > v) {
		return false
	}
	if search := strings.ToLower(get("search")); search != "" &&
		!strings.Contains(strings.ToLower(p.Title), search) &&
		!strings.Contains(strings.ToLower(p.Excerpt), search) {
		return false
	}
	if tags := get("tags"); tags != "" {
		found := false
		for _, want := range strings.Split(tags, ",") {
			for _, tag := range p.Tags {
				if strings.EqualFold(tag.Name, strings.TrimSpace(want)) {
					found = true
				}
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func orderPosts(posts []domain.Post, ordering string) {
	key := func(p domain.Post) int {
		switch strings.TrimPrefix(ordering, "-") {
		case "likes", "likes_count":
			return p.LikesCount
		case "views", "views_count":
			return p.ViewsCount
		}
		return 0
	}
	desc := ordering == "" || strings.HasPrefix(ordering, "-")

	slices.SortStableFunc(posts, func(a, b domain.Post) int {
		c := cmp.Compare(key(a), key(b))
		if c == 0 {
			c = a.CreatedAt.Compare(b.CreatedAt)
		}
		if c == 0 {
			c = cmp.Compare(a.ID, b.ID)
		}
		if desc {
			return -c
		}
		return c
	})
}

func (s *Server) listPosts(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := r.URL.Query()
	viewer := s.caller(r)
	all := make([]domain.Post, 0, len(s.posts))
	for _, rec := range s.posts {
		if matches(rec.post, q) {
			all = append(all, s.viewPostLocked(rec, viewer))
		}
	}
	orderPosts(all, q.Get("ordering"))
	writePage(w, r, all, httputil.ParsePage(r, DefaultPageSize, MaxPageSize))
}

func (s *Server) lookupPost(w http.ResponseWriter, r *http.Request) (*postRecord, bool) {
	id, ok := httputil.ParseID(w, chi.URLParam(r, "id"))
	if !ok {
		return nil, false
	}
	rec, exists := s.posts[id]
	if !exists {
		httputil.WriteDetail(w, http.StatusNotFound, "No Post matches the given query.")
		return nil, false
	}
	return rec, true
}

func (s *Server) getPost(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.lookupPost(w, r)
	if !ok {
		return
	}
	rec.post.ViewsCount++
	httputil.WriteJSON(w, http.StatusOK, s.viewPostLocked(rec, s.caller(r)))
}

// like toggles the caller's like. The response carries no liked flag.
func (s *Server) like(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.lookupPost(w, r)
	if !ok {
		return
	}
	me := s.caller(r)
	if rec.likedBy[me] {
		delete(rec.likedBy, me)
		rec.post.LikesCount--
	} else {
		rec.likedBy[me] = true
		rec.post.LikesCount++
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"status": "success", "likes": rec.post.LikesCount})
}

// --- comments ---

func (s *Server) listComments(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.lookupPost(w, r)
	if !ok {
		return
	}

	var list []domain.Comment
	for _, c := range s.comments {
		if c.Post == rec.post.ID {
			list = append(list, c)
		}
	}
	if list == nil {
		list = []domain.Comment{}
	}

	if s.commentPageSize > 0 {
		writePage(w, r, list, httputil.ParsePage(r, s.commentPageSize, MaxPageSize))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

type newComment struct {
	Content       string `json:"content" validate:"required"`
	ParentComment *int64 `json:"parent_comment"`
}

func (s *Server) createComment(w http.ResponseWriter, r *http.Request) {
	var in newComment
	if !decodeBody(w, r, &in) {
		return
	}
	if err := validator.Check(in); err != nil {
		httputil.WriteError(w, r, err, s.logger)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.lookupPost(w, r)
	if !ok {
		return
	}
	if in.ParentComment != nil && !s.hasCommentLocked(rec.post.ID, *in.ParentComment) {
		httputil.WriteFieldErrors(w, map[string][]string{
			"parent_comment": {fmt.Sprintf("Invalid pk \"%d\" - object does not exist.", *in.ParentComment)},
		})
		return
	}

	s.nextCommentID++
	c := domain.Comment{
		ID:            s.nextCommentID,
		Post:          rec.post.ID,
		Author:        s.users[s.caller(r)].user.Username,
		Content:       in.Content,
		CreatedAt:     s.now().UTC(),
		ParentComment: in.ParentComment,
	}
	s.comments = append(s.comments, c)
	rec.post.CommentsCount++
	httputil.WriteJSON(w, http.StatusCreated, c)
}

func (s *Server) hasCommentLocked(postID, id int64) bool {
	for _, c := range s.comments {
		if c.ID == id && c.Post == postID {
			return true
		}
	}
	return false
}

// lookupOwnComment finds the comment named by the URL and checks that the
// caller wrote it. It returns the comment's index in s.comments.
func (s *Server) lookupOwnComment(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, ok := httputil.ParseID(w, chi.URLParam(r, "id"))
	if !ok {
		return 0, false
	}
	i := slices.IndexFunc(s.comments, func(c domain.Comment) bool { return c.ID == id })
	if i < 0 {
		httputil.WriteDetail(w, http.StatusNotFound, "No Comment matches the given query.")
		return 0, false
	}
	if s.comments[i].Author != s.users[s.caller(r)].user.Username {
		httputil.WriteDetail(w, http.StatusForbidden, "You do not have permission to perform this action.")
		return 0, false
	}
	return i, true
}

func (s *Server) updateComment(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Content string `json:"content" validate:"required"`
	}
	if !decodeBody(w, r, &in) {
		return
	}
	if err := validator.Check(in); err != nil {
		httputil.WriteError(w, r, err, s.logger)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.lookupOwnComment(w, r)
	if !ok {
		return
	}
	s.comments[i].Content = in.Content
	httputil.WriteJSON(w, http.StatusOK, s.comments[i])
}

// deleteComment removes a comment together with every reply below it.
func (s *Server) deleteComment(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.lookupOwnComment(w, r)
	if !ok {
		return
	}

	target := s.comments[i]
	gone := map[int64]bool{target.ID: true}
	for changed := true; changed; {
		changed = false
		for _, c := range s.comments {
			if !gone[c.ID] && c.ParentComment != nil && gone[*c.ParentComment] {
				gone[c.ID] = true
				changed = true
			}
		}
	}
	s.comments = slices.DeleteFunc(s.comments, func(c domain.Comment) bool { return gone[c.ID] })
	if rec, exists := s.posts[target.Post]; exists {
		rec.post.CommentsCount = max(0, rec.post.CommentsCount-len(gone))
	}
	w.WriteHeader(http.StatusNoContent)
}

func writePage[T any](w http.ResponseWriter, r *http.Request, all []T, req pagination.Request) {
	page, ok := httputil.NewPage(r, all, req)
	if !ok {
		httputil.WriteDetail(w, http.StatusNotFound, "Invalid page.")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, page)
}
