package client

import (
	"context"
	"net/http"
	"strings"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"

	"seertix/pkg/apperr"
	"seertix/pkg/models"
)

const (
	MinAdviceLength = 3
	MaxAdviceLength = 300
)

type adviceList []models.Advice

func (l adviceList) Validate() error {
	for _, a := range l {
		if err := a.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ValidateAdvice checks the trimmed length of an advice text.
func ValidateAdvice(content string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(content))
	if n < MinAdviceLength || n > MaxAdviceLength {
		return apperr.Validation("advice", "advice must contain between 3 and 300 characters")
	}
	return nil
}

func (c *Client) Advices(ctx context.Context) ([]models.Advice, error) {
	var list adviceList
	err := c.do(ctx, request{
		op:     "advices",
		method: http.MethodGet,
		path:   []string{"advice"},
		auth:   true,
	}, &list)
	return list, err
}

func (c *Client) CreateAdvice(ctx context.Context, content string) (models.AdviceCreated, error) {
	if err := ValidateAdvice(content); err != nil {
		return models.AdviceCreated{}, err
	}

	var resp models.AdviceCreated
	err := c.do(ctx, request{
		op:     "create advice",
		method: http.MethodPost,
		path:   []string{"advice"},
		auth:   true,
		body:   models.NewAdvice{Content: strings.TrimSpace(content)},
	}, &resp)
	return resp, err
}

// Advice returns one advice item. Advice items never change once published, so they are served
// from the cache when one is configured.
func (c *Client) Advice(ctx context.Context, id models.ID) (models.Advice, error) {
	const op = "advice"
	if id.IsZero() {
		return models.Advice{}, apperr.Validation(op, "advice id is required")
	}

	key := "advice:" + id.String()
	var a models.Advice
	if c.cache != nil {
		err := c.cache.Get(ctx, key, &a)
		if err == nil {
			return a, nil
		}
		if !isCacheMiss(err) {
			log.Warnf("[client] cache lookup for %s failed: %v", key, err)
		}
	}

	err := c.do(ctx, request{
		op:     op,
		method: http.MethodGet,
		path:   []string{"advice", id.String()},
		auth:   true,
	}, &a)
	if err != nil {
		return models.Advice{}, err
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, key, a, c.cacheTTL); err != nil {
			log.Warnf("[client] failed to cache %s: %v", key, err)
		}
	}

	return a, nil
}

func (c *Client) RandomAdvice(ctx context.Context) (models.Advice, error) {
	var a models.Advice
	err := c.do(ctx, request{
		op:     "random advice",
		method: http.MethodGet,
		path:   []string{"advice", "random"},
		auth:   true,
	}, &a)
	return a, err
}
