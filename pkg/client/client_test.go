package client

import (
	"context"
	"errors"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/h2non/gock"
	log "github.com/sirupsen/logrus"

	"seertix/pkg/apperr"
	"seertix/pkg/cache"
	"seertix/pkg/models"
)

const apiURL = "http://api.test"

func TestMain(m *testing.M) {
	log.SetLevel(log.PanicLevel)
	exitCode := m.Run()
	os.Exit(exitCode)
}

type staticToken string

func (s staticToken) Token() (string, error) {
	if s == "" {
		return "", errors.New("no token")
	}
	return string(s), nil
}

func newTestClient(t *testing.T, opts ...Option) *Client {
	t.Helper()
	c, err := New(apiURL, staticToken("tok"), opts...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return c
}

func TestNew_rejectsBadURL(t *testing.T) {
	for _, u := range []string{"ftp://api.test", "::", "api.test"} {
		if _, err := New(u, staticToken("tok")); err == nil {
			t.Errorf("want error for %q", u)
		}
	}
}

func TestClient_Comments(t *testing.T) {
	defer gock.Off()

	gock.New(apiURL).
		Get("/comment/42").
		MatchHeader("Authorization", "Bearer tok").
		HeaderPresent("X-Request-Id").
		Reply(http.StatusOK).
		BodyString(`[
			{"id": 1, "user_id": 7, "user_name": "ana", "content": "first", "like_count": "3", "liked_by_current_user": true, "parent_comment_id": null},
			{"id": "2", "user_id": 8, "user_name": "bo", "content": "reply", "like_count": 0, "parent_comment_id": 1}
		]`)

	c := newTestClient(t)
	got, err := c.Comments(context.Background(), "42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 comments, got %d", len(got))
	}
	if got[0].LikeCount != 3 || !got[0].LikedByViewer {
		t.Errorf("want 3 likes liked by viewer, got %d %v", got[0].LikeCount, got[0].LikedByViewer)
	}
	if got[1].ParentID != "1" {
		t.Errorf("want parent 1, got %q", got[1].ParentID)
	}
	if !gock.IsDone() {
		t.Error("want all mocks consumed")
	}
}

func TestClient_Comments_emptyList(t *testing.T) {
	defer gock.Off()

	gock.New(apiURL).Get("/comment/42").Reply(http.StatusOK).BodyString(`null`)

	got, err := newTestClient(t).Comments(context.Background(), "42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("want empty non-nil list, got %#v", got)
	}
}

func TestClient_errorMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		kind    apperr.Kind
		message string
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"error":"Token invalide"}`, kind: apperr.KindUnauthorized, message: "Token invalide"},
		{name: "forbidden", status: http.StatusForbidden, body: `{"error":"Not your comment"}`, kind: apperr.KindServer, message: "Not your comment"},
		{name: "server message", status: http.StatusInternalServerError, body: `{"message":"database down"}`, kind: apperr.KindServer, message: "database down"},
		{name: "server fallback", status: http.StatusBadGateway, body: `<html>bad gateway</html>`, kind: apperr.KindServer, message: "unexpected server error (status 502)"},
		{name: "shape", status: http.StatusOK, body: `{"comments": []}`, kind: apperr.KindServer, message: "unexpected response from server"},
		{name: "missing id", status: http.StatusOK, body: `[{"content": "no id"}]`, kind: apperr.KindServer, message: "unexpected response from server"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer gock.Off()
			gock.New(apiURL).Get("/comment/1").Reply(tt.status).BodyString(tt.body)

			_, err := newTestClient(t).Comments(context.Background(), "1")
			if got := apperr.KindOf(err); got != tt.kind {
				t.Fatalf("want kind %v, got %v (%v)", tt.kind, got, err)
			}
			if got := apperr.UserMessage(err); got != tt.message {
				t.Errorf("want message %q, got %q", tt.message, got)
			}
		})
	}
}

func TestClient_networkError(t *testing.T) {
	defer gock.Off()

	gock.New(apiURL).Get("/advice/random").ReplyError(errors.New("connection refused"))

	_, err := newTestClient(t).RandomAdvice(context.Background())
	if !apperr.IsNetwork(err) {
		t.Errorf("want network error, got %v", err)
	}
}

func TestClient_missingCredentials(t *testing.T) {
	c, err := New(apiURL, staticToken(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = c.Profile(context.Background())
	if !apperr.IsUnauthorized(err) {
		t.Errorf("want unauthorized error, got %v", err)
	}
}

func TestClient_validationNeverReachesNetwork(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	checks := map[string]error{
		"short advice":    func() error { _, err := c.CreateAdvice(ctx, "  ab  "); return err }(),
		"empty comment":   func() error { _, err := c.CreateComment(ctx, models.NewComment{Content: "  ", AdviceID: "1"}); return err }(),
		"no advice id":    func() error { _, err := c.CreateComment(ctx, models.NewComment{Content: "hi"}); return err }(),
		"empty edit":      func() error { _, err := c.UpdateComment(ctx, "1", "\n"); return err }(),
		"short password":  func() error { _, err := c.Login(ctx, "a@b.c", "12345"); return err }(),
		"missing email":   func() error { _, err := c.Login(ctx, "", "123456"); return err }(),
		"short name":      c.Register(ctx, models.Registration{Name: "a", Email: "a@b.c", Password: "123456"}),
		"invalid email":   c.Register(ctx, models.Registration{Name: "ana", Email: "ab.c", Password: "123456"}),
		"no comment id":   c.LikeComment(ctx, ""),
		"no delete id":    c.DeleteComment(ctx, ""),
		"no comments id":  func() error { _, err := c.Comments(ctx, ""); return err }(),
		"long advice":     func() error { _, err := c.CreateAdvice(ctx, string(make([]rune, 301))); return err }(),
		"empty user id":   func() error { _, err := c.User(ctx, ""); return err }(),
		"empty advice id": func() error { _, err := c.Advice(ctx, ""); return err }(),
	}
	for name, err := range checks {
		if !apperr.IsValidation(err) {
			t.Errorf("%s: want validation error, got %v", name, err)
		}
	}
}

func TestValidateAdvice(t *testing.T) {
	tests := []struct {
		content string
		valid   bool
	}{
		{"abc", true},
		{"  abc  ", true},
		{"ab", false},
		{"été", true},
		{string(make([]byte, 300)), true},
		{string(make([]byte, 301)), false},
	}
	for _, tt := range tests {
		if err := ValidateAdvice(tt.content); (err == nil) != tt.valid {
			t.Errorf("ValidateAdvice(len %d): want valid %v, got %v", len(tt.content), tt.valid, err)
		}
	}
}

func TestClient_UpdateComment_partialResponse(t *testing.T) {
	defer gock.Off()

	gock.New(apiURL).Put("/comment/9").Reply(http.StatusOK).JSON(map[string]string{"message": "updated"})

	got, err := newTestClient(t).UpdateComment(context.Background(), "9", " new body ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != "9" || got.Body != "new body" {
		t.Errorf("want comment 9 with new body, got %+v", got)
	}
}

func TestClient_LikeComment(t *testing.T) {
	defer gock.Off()

	gock.New(apiURL).Post("/comment/5/like").Reply(http.StatusOK).JSON(map[string]string{"message": "ok"})
	gock.New(apiURL).Post("/comment/5/unlike").Reply(http.StatusOK).JSON(map[string]string{"message": "ok"})

	c := newTestClient(t)
	if err := c.LikeComment(context.Background(), "5"); err != nil {
		t.Errorf("unexpected like error: %v", err)
	}
	if err := c.UnlikeComment(context.Background(), "5"); err != nil {
		t.Errorf("unexpected unlike error: %v", err)
	}
	if !gock.IsDone() {
		t.Error("want both endpoints called")
	}
}

func TestClient_Login(t *testing.T) {
	defer gock.Off()

	gock.New(apiURL).
		Post("/auth/login").
		MatchType("json").
		Reply(http.StatusOK).
		JSON(map[string]string{"token": "abc.def.ghi"})

	got, err := newTestClient(t).Login(context.Background(), " ana@seertix.test ", "secret1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "abc.def.ghi" {
		t.Errorf("want token abc.def.ghi, got %q", got)
	}
}

func TestClient_Advice_cached(t *testing.T) {
	defer gock.Off()

	gock.New(apiURL).
		Get("/advice/3").
		Times(1).
		Reply(http.StatusOK).
		JSON(map[string]any{"id": 3, "author_id": 1, "owner_name": "ana", "content": "Drink water", "created_at": "2024-05-01T10:00:00Z"})

	c := newTestClient(t, WithCache(cache.NewMemory(), time.Minute))
	for i := 0; i < 3; i++ {
		got, err := c.Advice(context.Background(), "3")
		if err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
		if got.Body != "Drink water" || got.AuthorName != "ana" {
			t.Errorf("call %d: want cached advice, got %+v", i, got)
		}
	}
	if !gock.IsDone() {
		t.Error("want exactly one request")
	}
}

func TestClient_UserAdvices_fallback(t *testing.T) {
	defer gock.Off()

	gock.New(apiURL).Get("/user/7").Reply(http.StatusOK).
		JSON(map[string]any{"id": 7, "username": "ana", "pays": "FR"})
	gock.New(apiURL).Get("/advice").Reply(http.StatusOK).
		JSON([]map[string]any{
			{"id": 1, "author_id": 7, "content": "mine"},
			{"id": 2, "author_id": 8, "content": "theirs"},
			{"id": 3, "author_id": "7", "content": "mine too"},
		})

	u, got, err := newTestClient(t).UserAdvices(context.Background(), "7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Country != "FR" {
		t.Errorf("want country FR, got %q", u.Country)
	}
	if len(got) != 2 || got[0].ID != "1" || got[1].ID != "3" {
		t.Errorf("want advices 1 and 3, got %+v", got)
	}
}
