package portal

import (
	"context"
	"html"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/goodtune/coxstatus/internal/config"
	"github.com/goodtune/coxstatus/internal/errs"
	"github.com/goodtune/coxstatus/internal/usage"
)

// LoginFunc logs in again when the session has expired.
type LoginFunc func(ctx context.Context) error

// Fetcher retrieves usage data with transparent re-login
type Fetcher struct {
	client     *Client
	login      LoginFunc
	expired    ExpiryPredicate
	usageURL   string
	summaryURL string
	summaryRe  *regexp.Regexp
	now        func() time.Time
	logger     zerolog.Logger
}

// NewFetcher creates a fetcher
func NewFetcher(client *Client, login LoginFunc, cfg config.PortalConfig, logger zerolog.Logger) *Fetcher {
	return &Fetcher{
		client:     client,
		login:      login,
		expired:    MarkerPredicate(cfg.ExpiryMarkers),
		usageURL:   cfg.UsageURL,
		summaryURL: cfg.SummaryURL,
		summaryRe:  attributePattern(cfg.SummaryAttribute),
		now:        time.Now,
		logger:     logger.With().Str("component", "fetcher").Logger(),
	}
}

// SetExpiryPredicate replaces the session expiry check built from the
// configured markers.
func (f *Fetcher) SetExpiryPredicate(p ExpiryPredicate) {
	f.expired = p
}

func attributePattern(name string) *regexp.Regexp {
	q := regexp.QuoteMeta(name)
	return regexp.MustCompile(q + `\s*=\s*(?:"([^"]*)"|'([^']*)')`)
}

// Fetch retrieves the daily usage series for period and the account summary.
func (f *Fetcher) Fetch(ctx context.Context, period string) (usage.UsagePayload, usage.SummaryPayload, error) {
	usageBody, err := f.getWithAuth(ctx, "portal.usage", f.usageURL, map[string]string{
		"usagePeriodType": period,
		"_":               strconv.FormatInt(f.now().UnixMicro(), 10),
	})
	if err != nil {
		return usage.UsagePayload{}, usage.SummaryPayload{}, err
	}
	usagePayload, usageErr := usage.DecodeUsage(usageBody)

	// The summary is read even when the usage body is unusable: a portal
	// reported error there takes precedence over a usage parse failure.
	summaryBody, err := f.getWithAuth(ctx, "portal.summary", f.summaryURL, nil)
	if err != nil {
		return usage.UsagePayload{}, usage.SummaryPayload{}, err
	}
	summaryPayload, err := f.extractSummary(summaryBody)
	if err != nil {
		return usage.UsagePayload{}, usage.SummaryPayload{}, err
	}

	if usageErr != nil {
		if summaryPayload.Error != nil {
			f.logger.Warn().Err(usageErr).Msg("Ignoring unreadable usage response, summary reports a portal error")
			return usage.UsagePayload{}, summaryPayload, nil
		}
		return usage.UsagePayload{}, usage.SummaryPayload{}, usageErr
	}

	return usagePayload, summaryPayload, nil
}

// extractSummary decodes the JSON embedded in the summary page attribute. A
// page without the attribute yields an empty summary.
func (f *Fetcher) extractSummary(page []byte) (usage.SummaryPayload, error) {
	m := f.summaryRe.FindSubmatch(page)
	if m == nil {
		f.logger.Warn().Msg("Summary page has no embedded usage summary")
		return usage.SummaryPayload{}, nil
	}

	raw := m[1]
	if raw == nil {
		raw = m[2]
	}
	return usage.DecodeSummary([]byte(html.UnescapeString(string(raw))))
}

// getWithAuth performs a GET, logging in once and retrying once when the
// response shows the session has expired.
func (f *Fetcher) getWithAuth(ctx context.Context, op, rawURL string, query map[string]string) ([]byte, error) {
	resp, err := f.client.Get(ctx, op, rawURL, query)
	if err != nil {
		return nil, err
	}
	if !f.expired(resp.StatusCode(), resp.Body()) {
		if err := checkStatus(op, resp); err != nil {
			return nil, err
		}
		return resp.Body(), nil
	}

	expiredErr := expiryError(op, resp)
	f.logger.Info().Int("status", resp.StatusCode()).Str("url", rawURL).Msg("Session expired, logging in again")

	if err := f.login(ctx); err != nil {
		f.logger.Error().Err(err).Msg("Re-login failed")
		return nil, expiredErr
	}

	resp, err = f.client.Get(ctx, op, rawURL, query)
	if err != nil {
		return nil, err
	}
	if f.expired(resp.StatusCode(), resp.Body()) {
		return nil, errs.Wrap(errs.KindAuth, op, "session still expired after login", expiryError(op, resp))
	}
	if err := checkStatus(op, resp); err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

// expiryError is a hard 401 as a network error, or a soft expiry as an auth error.
func expiryError(op string, resp *resty.Response) error {
	httpErr := &errs.HTTPError{StatusCode: resp.StatusCode(), URL: resp.Request.URL}
	if resp.StatusCode() == http.StatusUnauthorized {
		return errs.Wrap(errs.KindNetwork, op, "unauthorized", httpErr)
	}
	return errs.Wrap(errs.KindAuth, op, "session expired", httpErr)
}
