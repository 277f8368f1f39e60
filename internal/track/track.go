// Package track sends best-effort analytics pings for handled requests.
// Pings run as fire-and-forget tasks with a bounded lifetime and never sit
// on the request path.
package track

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/labstack/echo/v4"

	"pipeline-cloud/backend/internal/config"
)

const pingTimeout = 5 * time.Second

// Tracker posts page-view pings to the configured analytics endpoint.
type Tracker struct {
	enabled   bool
	endpoint  string
	siteID    string
	authToken string
	client    *http.Client
	logger    *slog.Logger
}

// New creates a Tracker. With tracking disabled in the configuration every
// call is a no-op.
func New(cfg *config.Config, logger *slog.Logger) *Tracker {
	return &Tracker{
		enabled:   cfg.Tracking.Enabled,
		endpoint:  cfg.Tracking.URL,
		siteID:    cfg.Tracking.SiteID,
		authToken: cfg.Tracking.AuthToken,
		client:    &http.Client{Timeout: pingTimeout},
		logger:    logger,
	}
}

// Middleware fires a tracking ping for each handled request after the
// response is written. The ping goroutine carries its own deadline and is
// never joined.
func (t *Tracker) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if t.enabled {
				req := c.Request()
				go t.ping(req.URL.RequestURI(), req.UserAgent(), c.RealIP())
			}
			return err
		}
	}
}

func (t *Tracker) ping(uri, userAgent, remote string) {
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	params := url.Values{}
	params.Set("idsite", t.siteID)
	params.Set("rec", "1")
	params.Set("url", uri)
	params.Set("ua", userAgent)
	params.Set("cip", remote)
	if t.authToken != "" {
		params.Set("token_auth", t.authToken)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		t.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		t.logger.Debug("tracking request build failed", "error", err)
		return
	}

	resp, err := t.client.Do(req)
	if err != nil {
		t.logger.Debug("tracking ping failed", "error", err)
		return
	}
	resp.Body.Close()
}
