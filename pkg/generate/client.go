// Package generate is the request/response fallback used when the realtime
// channel is not ready: POST {query, userId} and read {response}.
package generate

import (
	"context"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	DefaultBaseURL = "http://localhost:8000"
	DefaultPath    = "/api/generate"
	DefaultTimeout = 60 * time.Second
)

// ErrDelivery marks a failed round trip: transport error, non-2xx status or
// an unreadable body.
var ErrDelivery = errors.New("delivery failed")

type Request struct {
	Query  string `json:"query"`
	UserID int    `json:"userId"`
}

type Response struct {
	Response string `json:"response"`
}

type Config struct {
	BaseURL string
	Path    string
	Timeout time.Duration
}

type Client struct {
	http *resty.Client
	path string
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	hc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "voxchat/1.0").
		SetTimeout(cfg.Timeout)
	return &Client{http: hc, path: cfg.Path}
}

// Generate sends one query and returns the reply text.
func (c *Client) Generate(ctx context.Context, query string, userID int) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	requestID := uuid.NewString()
	var out Response
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("X-Request-Id", requestID).
		SetBody(Request{Query: query, UserID: userID}).
		SetResult(&out).
		Post(c.path)
	if err != nil {
		log.Warn().Err(err).Str("component", "generate").Str("request_id", requestID).Msg("request failed")
		return "", errors.Wrapf(ErrDelivery, "post %s: %v", c.path, err)
	}
	if resp.IsError() {
		log.Warn().Str("component", "generate").Str("request_id", requestID).Int("status", resp.StatusCode()).Msg("backend returned error status")
		return "", errors.Wrapf(ErrDelivery, "post %s: status %d", c.path, resp.StatusCode())
	}
	log.Debug().Str("component", "generate").Str("request_id", requestID).Dur("elapsed", resp.Time()).Msg("reply received")
	return out.Response, nil
}
