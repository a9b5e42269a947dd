// Package portal talks to the ISP account portal: login handshake, login
// constant discovery and authenticated usage requests.
package portal

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/goodtune/coxstatus/internal/config"
	"github.com/goodtune/coxstatus/internal/errs"
	"github.com/goodtune/coxstatus/internal/metrics"
)

// Client is the HTTP client shared by every portal request. Cookies go
// through the session jar passed to NewClient.
type Client struct {
	http   *resty.Client
	logger zerolog.Logger
}

// NewClient creates a portal client using jar for cookies
func NewClient(cfg config.PortalConfig, jar http.CookieJar, logger zerolog.Logger) (*Client, error) {
	c := resty.New().
		SetCookieJar(jar).
		SetHeader("User-Agent", cfg.UserAgent).
		SetTimeout(config.ParseDuration(cfg.Timeout, 30*time.Second))

	maxRedirects := cfg.MaxRedirects
	if maxRedirects <= 0 {
		maxRedirects = 10
	}
	c.SetRedirectPolicy(resty.FlexibleRedirectPolicy(maxRedirects))

	// An intercepting proxy presents its own certificates
	if cfg.Proxy != "" {
		if _, err := url.Parse(cfg.Proxy); err != nil {
			return nil, errs.Wrap(errs.KindConfig, "portal.client", "invalid proxy URL", err)
		}
		c.SetProxy(cfg.Proxy)
		c.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true}) //nolint:gosec
	}

	client := &Client{
		http:   c,
		logger: logger.With().Str("component", "portal-client").Logger(),
	}
	c.OnAfterResponse(client.observe)

	return client, nil
}

func (c *Client) observe(_ *resty.Client, resp *resty.Response) error {
	host := ""
	if resp.RawResponse != nil && resp.RawResponse.Request != nil {
		host = resp.RawResponse.Request.URL.Hostname()
	}
	metrics.PortalRequests.WithLabelValues(host, strconv.Itoa(resp.StatusCode())).Inc()

	c.logger.Debug().
		Str("method", resp.Request.Method).
		Str("url", resp.Request.URL).
		Int("status", resp.StatusCode()).
		Dur("duration", resp.Time()).
		Msg("Portal response")
	return nil
}

// R starts a request bound to ctx.
func (c *Client) R(ctx context.Context) *resty.Request {
	return c.http.R().SetContext(ctx)
}

// Get fetches rawURL with query parameters. Transport failures are returned
// as network errors; the status is left for the caller to judge.
func (c *Client) Get(ctx context.Context, op, rawURL string, query map[string]string) (*resty.Response, error) {
	resp, err := c.R(ctx).SetQueryParams(query).Get(rawURL)
	if err != nil {
		return nil, errs.Wrap(errs.KindNetwork, op, "GET "+rawURL, err)
	}
	return resp, nil
}

// checkStatus turns a non-2xx response into a network error.
func checkStatus(op string, resp *resty.Response) error {
	if resp.IsSuccess() {
		return nil
	}
	return errs.Wrap(errs.KindNetwork, op, "portal request failed", &errs.HTTPError{
		StatusCode: resp.StatusCode(),
		URL:        resp.Request.URL,
	})
}
