package client

import (
	"context"
	"net/http"
	"strings"
	"unicode/utf8"

	"seertix/pkg/apperr"
	"seertix/pkg/models"
)

const (
	MinPasswordLength = 6
	MinNameLength     = 2
)

// Login exchanges email and password for a session token.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	const op = "login"
	if strings.TrimSpace(email) == "" || password == "" {
		return "", apperr.Validation(op, "email and password are required")
	}
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return "", apperr.Validation(op, "password must be at least 6 characters")
	}

	var resp models.LoginResponse
	err := c.do(ctx, request{
		op:     op,
		method: http.MethodPost,
		path:   []string{"auth", "login"},
		body:   models.LoginRequest{Email: strings.TrimSpace(email), Password: password},
	}, &resp)
	if err != nil {
		return "", err
	}

	return resp.Token, nil
}

func (c *Client) Register(ctx context.Context, reg models.Registration) error {
	const op = "register"
	reg.Name = strings.TrimSpace(reg.Name)
	reg.Email = strings.TrimSpace(reg.Email)

	if utf8.RuneCountInString(reg.Name) < MinNameLength {
		return apperr.Validation(op, "name must be at least 2 characters")
	}
	if !strings.Contains(reg.Email, "@") {
		return apperr.Validation(op, "invalid email address")
	}
	if utf8.RuneCountInString(reg.Password) < MinPasswordLength {
		return apperr.Validation(op, "password must be at least 6 characters")
	}

	return c.do(ctx, request{
		op:     op,
		method: http.MethodPost,
		path:   []string{"auth", "register"},
		body:   reg,
	}, nil)
}

// Profile returns the profile of the logged-in user.
func (c *Client) Profile(ctx context.Context) (models.Profile, error) {
	var p models.Profile
	err := c.do(ctx, request{
		op:     "profile",
		method: http.MethodGet,
		path:   []string{"auth", "profile"},
		auth:   true,
	}, &p)
	return p, err
}

// User returns the public profile of another user.
func (c *Client) User(ctx context.Context, id models.ID) (models.PublicUser, error) {
	const op = "user"
	if id.IsZero() {
		return models.PublicUser{}, apperr.Validation(op, "user id is required")
	}

	var u models.PublicUser
	err := c.do(ctx, request{
		op:     op,
		method: http.MethodGet,
		path:   []string{"user", id.String()},
		auth:   true,
	}, &u)
	return u, err
}

// UserAdvices returns the advice items published by a user. Older servers do not embed them in
// the user payload; the full advice list is filtered by author then.
func (c *Client) UserAdvices(ctx context.Context, id models.ID) (models.PublicUser, []models.Advice, error) {
	u, err := c.User(ctx, id)
	if err != nil {
		return models.PublicUser{}, nil, err
	}
	if u.Advices != nil {
		return u, u.Advices, nil
	}

	all, err := c.Advices(ctx)
	if err != nil {
		return u, nil, err
	}

	var own []models.Advice
	for _, a := range all {
		if a.AuthorID == u.ID {
			own = append(own, a)
		}
	}
	return u, own, nil
}
