// Package client talks to the advice-sharing REST API. Every response is decoded into a typed
// model and validated; every failure is reported as an *apperr.Error.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gofrs/uuid"
	log "github.com/sirupsen/logrus"

	"seertix/pkg/apperr"
	"seertix/pkg/cache"
	"seertix/pkg/logger"
	"seertix/pkg/models"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultCacheTTL = 10 * time.Minute
	maxBodySize     = 4 << 20
)

// Credentials supplies the bearer token of the current session.
type Credentials interface {
	Token() (string, error)
}

type Client struct {
	base     *url.URL
	http     *http.Client
	creds    Credentials
	cache    cache.Cache
	cacheTTL time.Duration
}

type Option func(*Client)

// WithHTTPClient replaces the default client, which logs each call through logger.Transport.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithCache caches immutable resources (advice items) in ch for ttl.
func WithCache(ch cache.Cache, ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = ch
		if ttl > 0 {
			c.cacheTTL = ttl
		}
	}
}

func New(baseURL string, creds Credentials, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid API URL %q: scheme must be http or https", baseURL)
	}

	c := Client{
		base:     u,
		http:     &http.Client{Timeout: defaultTimeout, Transport: logger.New("seertix", nil, nil)},
		creds:    creds,
		cacheTTL: defaultCacheTTL,
	}
	for _, opt := range opts {
		opt(&c)
	}

	return &c, nil
}

type validator interface {
	Validate() error
}

type request struct {
	op     string
	method string
	path   []string
	auth   bool
	body   any
}

// do sends the request and decodes a successful response into result, if not nil.
func (c *Client) do(ctx context.Context, r request, result any) error {
	var token string
	if r.auth {
		t, err := c.creds.Token()
		if err != nil {
			if apperr.KindOf(err) == apperr.KindUnknown {
				err = apperr.Unauthorized(r.op, "", err)
			}
			return err
		}
		token = t
	}

	var body io.Reader
	if r.body != nil {
		b, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", r.op, err)
		}
		body = bytes.NewReader(b)
	}

	target := c.base.JoinPath(r.path...)
	req, err := http.NewRequestWithContext(ctx, r.method, target.String(), body)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", r.op, err)
	}

	reqID, err := uuid.NewV4()
	if err != nil {
		return fmt.Errorf("%s: generate request id: %w", r.op, err)
	}
	sID := logger.Shorten(reqID.String())

	req.Header.Set(logger.RequestIDHeader, reqID.String())
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		log.Warnf("[client][%s] %s %s failed: %v", sID, r.method, target.Path, err)
		return apperr.Network(r.op, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		log.Warnf("[client][%s] failed to read response body: %v", sID, err)
		return apperr.Network(r.op, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		msg := errorMessage(b)
		log.Debugf("[client][%s] %s %s returned %d: %s", sID, r.method, target.Path, resp.StatusCode, msg)
		if resp.StatusCode == http.StatusUnauthorized {
			return apperr.Unauthorized(r.op, msg, nil)
		}
		return apperr.Server(r.op, resp.StatusCode, msg, nil)
	}

	if result == nil {
		return nil
	}

	if err := json.Unmarshal(b, result); err != nil {
		log.Errorf("[client][%s] failed to decode response from %s: %v", sID, target.Path, err)
		return apperr.Server(r.op, resp.StatusCode, "unexpected response from server", fmt.Errorf("%w: %v", models.ErrShape, err))
	}
	if v, ok := result.(validator); ok {
		if err := v.Validate(); err != nil {
			log.Errorf("[client][%s] invalid response from %s: %v", sID, target.Path, err)
			return apperr.Server(r.op, resp.StatusCode, "unexpected response from server", err)
		}
	}

	return nil
}

func errorMessage(b []byte) string {
	var payload models.ErrorResponse
	if err := json.Unmarshal(b, &payload); err != nil {
		return ""
	}
	return payload.Text()
}

// isCacheMiss reports whether err only means the value was not cached.
func isCacheMiss(err error) bool {
	return errors.Is(err, cache.ErrCacheMiss)
}
