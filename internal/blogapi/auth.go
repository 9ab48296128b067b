package blogapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/desurestar/RSOD-project/internal/domain"
	"github.com/desurestar/RSOD-project/pkg/validator"
)

// Credentials log a user in.
type Credentials struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Registration creates an account.
type Registration struct {
	Username string `json:"username" validate:"required,max=150"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

// Registered is the answer to a registration. Tokens is empty when the server
// only created the account; the caller then logs in with the same credentials.
type Registered struct {
	User   domain.User
	Tokens domain.Tokens
}

type tokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

func (p tokenPair) tokens() domain.Tokens {
	return domain.Tokens{Access: p.Access, Refresh: p.Refresh}
}

// Login exchanges credentials for a token pair.
func (c *Client) Login(ctx context.Context, creds Credentials) (domain.Tokens, error) {
	if err := validator.Check(creds); err != nil {
		return domain.Tokens{}, err
	}
	var out tokenPair
	if err := c.call(ctx, "login", http.MethodPost, "auth/token/", nil, creds, &out); err != nil {
		return domain.Tokens{}, err
	}
	if out.Access == "" || out.Refresh == "" {
		return domain.Tokens{}, fmt.Errorf("login: response is missing tokens")
	}
	return out.tokens(), nil
}

// Refresh exchanges a refresh token for a new access token. The returned
// Refresh is empty unless the server rotated it.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (domain.Tokens, error) {
	var out tokenPair
	in := map[string]string{"refresh": refreshToken}
	if err := c.call(ctx, "refresh", http.MethodPost, "auth/token/refresh/", nil, in, &out); err != nil {
		return domain.Tokens{}, err
	}
	if out.Access == "" {
		return domain.Tokens{}, fmt.Errorf("refresh: response is missing the access token")
	}
	return out.tokens(), nil
}

// Register creates an account. The backend answers either {id, username} or
// {tokens, user}; both are accepted.
func (c *Client) Register(ctx context.Context, reg Registration) (Registered, error) {
	if err := validator.Check(reg); err != nil {
		return Registered{}, err
	}

	var out struct {
		ID       int64       `json:"id"`
		Username string      `json:"username"`
		Tokens   tokenPair   `json:"tokens"`
		User     domain.User `json:"user"`
	}
	if err := c.call(ctx, "register", http.MethodPost, "auth/register/", nil, reg, &out); err != nil {
		return Registered{}, err
	}

	user := out.User
	if user.ID == 0 {
		user = domain.User{ID: out.ID, Username: out.Username, Email: reg.Email}
	}
	tokens := out.Tokens.tokens()
	if !tokens.Complete() {
		tokens = domain.Tokens{}
	}
	return Registered{User: user, Tokens: tokens}, nil
}

// Profile returns the authenticated user.
func (c *Client) Profile(ctx context.Context) (domain.User, error) {
	var u domain.User
	if err := c.call(ctx, "profile", http.MethodGet, "auth/profile/", nil, nil, &u); err != nil {
		return domain.User{}, err
	}
	return u, nil
}
