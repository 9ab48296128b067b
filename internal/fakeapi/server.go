// Package fakeapi is an in-memory implementation of the blog REST API. It
// issues real HS256 tokens, so expiry and refresh behave as against the real
// backend, and lets tests inject failures.
package fakeapi

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/desurestar/RSOD-project/internal/domain"
	"github.com/desurestar/RSOD-project/pkg/logger"
	"github.com/desurestar/RSOD-project/pkg/middleware"
)

// Defaults mirror the backend's token lifetimes and page sizes.
const (
	DefaultAccessTTL  = 24 * time.Hour
	DefaultRefreshTTL = 7 * 24 * time.Hour
	DefaultPageSize   = 4
	MaxPageSize       = 20
)

var errTokenRejected = errors.New("token rejected")

type account struct {
	user      domain.User
	password  string
	followers map[int64]bool
	following map[int64]bool
}

type postRecord struct {
	post     domain.Post
	authorID int64
	likedBy  map[int64]bool
}

type tokenClaims struct {
	jwt.RegisteredClaims
	TokenType string `json:"token_type"`
	UserID    int64  `json:"user_id"`
	Username  string `json:"username"`
	Epoch     int    `json:"epoch"`
}

// Option configures a Server.
type Option func(*Server)

// WithClock replaces time.Now for token issue and validation.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithAccessTTL sets the access token lifetime.
func WithAccessTTL(d time.Duration) Option {
	return func(s *Server) { s.accessTTL = d }
}

// WithRefreshRotation makes refresh issue a new refresh token and reject the old one.
func WithRefreshRotation() Option {
	return func(s *Server) { s.rotateRefresh = true }
}

// WithRegisterTokens makes register answer {tokens, user} instead of {id, username}.
func WithRegisterTokens() Option {
	return func(s *Server) { s.registerTokens = true }
}

// WithPaginatedComments makes the comment list answer with page envelopes.
func WithPaginatedComments(size int) Option {
	return func(s *Server) { s.commentPageSize = size }
}

// WithLogger sets the request logger. The default discards.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// Server holds the API state. The zero value is not usable; call New.
type Server struct {
	secret          []byte
	now             func() time.Time
	accessTTL       time.Duration
	rotateRefresh   bool
	registerTokens  bool
	commentPageSize int
	logger          *slog.Logger

	mu            sync.Mutex
	nextUserID    int64
	nextPostID    int64
	nextCommentID int64
	users         map[int64]*account
	byName        map[string]int64
	posts         map[int64]*postRecord
	comments      []domain.Comment
	accessEpoch   int
	refreshEpoch  int
	revoked       map[string]bool
	failures      map[string][]int
	hits          map[string]int
	refreshes     int
}

// New creates an empty API.
func New(opts ...Option) *Server {
	s := &Server{
		secret:    []byte(uuid.NewString()),
		now:       time.Now,
		accessTTL: DefaultAccessTTL,
		logger:    logger.Discard(),
		users:     make(map[int64]*account),
		byName:    make(map[string]int64),
		posts:     make(map[int64]*postRecord),
		revoked:   make(map[string]bool),
		failures:  make(map[string][]int),
		hits:      make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddUser creates an account.
func (s *Server) AddUser(username, password string) domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addUserLocked(username, username+"@example.com", password)
}

func (s *Server) addUserLocked(username, email, password string) domain.User {
	s.nextUserID++
	a := &account{
		user: domain.User{
			ID:          s.nextUserID,
			Username:    username,
			Email:       email,
			DisplayName: username,
			Role:        "user",
		},
		password:  password,
		followers: make(map[int64]bool),
		following: make(map[int64]bool),
	}
	s.users[a.user.ID] = a
	s.byName[username] = a.user.ID
	return a.user
}

// AddPost publishes p as authorID. Zero ID and CreatedAt are filled in.
func (s *Server) AddPost(authorID int64, p domain.Post) domain.Post {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == 0 {
		s.nextPostID++
		p.ID = s.nextPostID
	} else if p.ID > s.nextPostID {
		s.nextPostID = p.ID
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now().UTC().Add(time.Duration(p.ID) * time.Second)
	}
	if p.PostType == "" {
		p.PostType = domain.PostTypeRecipe
	}
	if a, ok := s.users[authorID]; ok {
		p.Author = a.user.Username
	}
	p.IsLiked = false
	s.posts[p.ID] = &postRecord{post: p, authorID: authorID, likedBy: make(map[int64]bool)}
	return p
}

// AddComment stores c as authorID without touching the post's comment count.
func (s *Server) AddComment(authorID int64, c domain.Comment) domain.Comment {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == 0 {
		s.nextCommentID++
		c.ID = s.nextCommentID
	} else if c.ID > s.nextCommentID {
		s.nextCommentID = c.ID
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now().UTC().Add(time.Duration(c.ID) * time.Second)
	}
	if a, ok := s.users[authorID]; ok {
		c.Author = a.user.Username
	}
	s.comments = append(s.comments, c)
	return c
}

// SetLikes overwrites the like count of post id, as if other users had
// liked it meanwhile.
func (s *Server) SetLikes(id int64, likes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.posts[id]; ok {
		rec.post.LikesCount = likes
	}
}

// Follow makes followerID a subscriber of targetID.
func (s *Server) Follow(followerID, targetID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[targetID].followers[followerID] = true
	s.users[followerID].following[targetID] = true
}

// ExpireAccessTokens invalidates every access token issued so far.
func (s *Server) ExpireAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessEpoch++
}

// RevokeRefreshTokens invalidates every refresh token issued so far.
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshEpoch++
}

// FailNext makes the next request to method and path answer status.
// Repeated calls queue further failures; a zero status lets that request through.
func (s *Server) FailNext(method, path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := method + " " + path
	s.failures[key] = append(s.failures[key], status)
}

// Hits returns how many requests reached method and path.
func (s *Server) Hits(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[method+" "+path]
}

// Refreshes returns how many successful token refreshes were served.
func (s *Server) Refreshes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshes
}

// Post returns the stored post as seen anonymously.
func (s *Server) Post(id int64) (domain.Post, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.posts[id]
	if !ok {
		return domain.Post{}, false
	}
	return rec.post, true
}

// LikedBy reports whether userID likes post id.
func (s *Server) LikedBy(id, userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.posts[id]
	return ok && rec.likedBy[userID]
}

// Subscribed reports whether followerID follows targetID.
func (s *Server) Subscribed(followerID, targetID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.users[targetID]
	return ok && a.followers[followerID]
}

// IssueTokens signs a fresh pair for userID.
func (s *Server) IssueTokens(userID int64) (domain.Tokens, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issueLocked(userID)
}

func (s *Server) issueLocked(userID int64) (domain.Tokens, error) {
	a, ok := s.users[userID]
	if !ok {
		return domain.Tokens{}, fmt.Errorf("unknown user %d", userID)
	}
	access, err := s.signLocked(a.user, "access", s.accessTTL, s.accessEpoch)
	if err != nil {
		return domain.Tokens{}, err
	}
	refresh, err := s.signLocked(a.user, "refresh", DefaultRefreshTTL, s.refreshEpoch)
	if err != nil {
		return domain.Tokens{}, err
	}
	return domain.Tokens{Access: access, Refresh: refresh}, nil
}

func (s *Server) signLocked(u domain.User, tokenType string, ttl time.Duration, epoch int) (string, error) {
	now := s.now()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   fmt.Sprint(u.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		TokenType: tokenType,
		UserID:    u.ID,
		Username:  u.Username,
		Epoch:     epoch,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", tokenType, err)
	}
	return signed, nil
}

// parseLocked verifies signature, expiry, type and epoch.
func (s *Server) parseLocked(token, tokenType string) (*tokenClaims, error) {
	claims := &tokenClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errTokenRejected, err)
	}
	if claims.TokenType != tokenType {
		return nil, fmt.Errorf("%w: want %s token", errTokenRejected, tokenType)
	}

	epoch := s.accessEpoch
	if tokenType == "refresh" {
		epoch = s.refreshEpoch
		if s.revoked[claims.ID] {
			return nil, fmt.Errorf("%w: blacklisted", errTokenRejected)
		}
	}
	if claims.Epoch != epoch {
		return nil, fmt.Errorf("%w: expired", errTokenRejected)
	}
	if _, ok := s.users[claims.UserID]; !ok {
		return nil, fmt.Errorf("%w: unknown user", errTokenRejected)
	}
	return claims, nil
}

func (s *Server) validateAccess(token string) (middleware.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	claims, err := s.parseLocked(token, "access")
	if err != nil {
		return middleware.Principal{}, err
	}
	return middleware.Principal{UserID: claims.UserID, Username: claims.Username}, nil
}

// inject records the hit and serves a queued failure, if any.
func (s *Server) inject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path

		s.mu.Lock()
		s.hits[key]++
		var status int
		if queue := s.failures[key]; len(queue) > 0 {
			status = queue[0]
			s.failures[key] = queue[1:]
		}
		s.mu.Unlock()

		if status != 0 {
			writeStatus(w, status)
			return
		}
		next.ServeHTTP(w, r)
	})
}
