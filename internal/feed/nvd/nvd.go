// Package nvd implements the feed.Source interface against the NVD CVE API
// 2.0, handling pagination, rate limiting, and record normalization.
package nvd

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"k8s.io/utils/clock"

	"github.com/crimson-sun/vigil/internal/feed"
	"github.com/crimson-sun/vigil/internal/feed/httpclient"
	"github.com/crimson-sun/vigil/internal/feed/ratelimit"
	"github.com/crimson-sun/vigil/internal/model"
	"github.com/crimson-sun/vigil/internal/telemetry"
)

const (
	// DefaultEndpoint is the public NVD CVE API 2.0 base URL.
	DefaultEndpoint = "https://services.nvd.nist.gov/rest/json/cves/2.0"

	// timeLayout is the timestamp format the API expects in query
	// parameters and usually emits in payloads.
	timeLayout = "2006-01-02T15:04:05.000"

	// Published rate policy: 5 requests per 30s without a key, 50 with.
	unauthLimit = 5
	authLimit   = 50
	rateWindow  = 30 * time.Second

	defaultPageSize = 200
)

// Client fetches CVE records from the NVD API. All requests pass through a
// sliding-window rate limiter sized to the published quota for the
// credentials in use.
type Client struct {
	http     *httpclient.Client
	bucket   *ratelimit.Bucket
	pageSize int
}

type settings struct {
	timeout  time.Duration
	clock    clock.Clock
	pageSize int
}

// Option configures Client behavior.
type Option func(*settings)

// WithHTTPTimeout sets the per-request HTTP timeout.
func WithHTTPTimeout(d time.Duration) Option {
	return func(s *settings) {
		s.timeout = d
	}
}

// WithClock replaces the wall clock driving rate-limit and backoff waits,
// for tests.
func WithClock(ck clock.Clock) Option {
	return func(s *settings) {
		s.clock = ck
	}
}

// WithPageSize overrides how many records are requested per page.
func WithPageSize(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// New creates a Client for the given endpoint. An empty endpoint selects the
// public API. A non-empty apiKey is sent on every request and raises the
// rate quota from 5 to 50 requests per 30 seconds.
func New(endpoint, apiKey string, opts ...Option) *Client {
	s := settings{
		timeout:  30 * time.Second,
		clock:    clock.RealClock{},
		pageSize: defaultPageSize,
	}
	for _, opt := range opts {
		opt(&s)
	}

	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	limit := unauthLimit
	httpOpts := []httpclient.Option{
		httpclient.WithTimeout(s.timeout),
		httpclient.WithClock(s.clock),
	}
	if apiKey != "" {
		limit = authLimit
		httpOpts = append(httpOpts, httpclient.WithHeader("apiKey", apiKey))
	}

	return &Client{
		http:     httpclient.New(endpoint, httpOpts...),
		bucket:   ratelimit.New(limit, rateWindow, ratelimit.WithClock(s.clock)),
		pageSize: s.pageSize,
	}
}

// Envelope types for the CVE API 2.0 response shape.
type envelope struct {
	ResultsPerPage  int             `json:"resultsPerPage"`
	StartIndex      int             `json:"startIndex"`
	TotalResults    int             `json:"totalResults"`
	Vulnerabilities []vulnerability `json:"vulnerabilities"`
}

type vulnerability struct {
	CVE cveItem `json:"cve"`
}

type cveItem struct {
	ID           string        `json:"id"`
	Published    string        `json:"published"`
	Descriptions []description `json:"descriptions"`
}

type description struct {
	Lang  string `json:"lang"`
	Value string `json:"value"`
}

// Fetch pulls every page of CVEs published inside the window, normalizing
// entries and deduplicating IDs across page boundaries. On error the records
// collected so far are returned alongside it.
func (c *Client) Fetch(ctx context.Context, window model.FetchWindow) (*feed.Result, error) {
	if err := feed.ValidateWindow(window); err != nil {
		return nil, err
	}

	res := &feed.Result{}
	seen := make(map[string]struct{})

	startIndex := 0
	for {
		if err := c.bucket.Wait(ctx); err != nil {
			telemetry.FeedRequests.WithLabelValues("nvd", "throttled").Inc()
			return res, err
		}

		query := url.Values{
			"pubStartDate":   []string{window.Since.UTC().Format(timeLayout)},
			"pubEndDate":     []string{window.Until.UTC().Format(timeLayout)},
			"resultsPerPage": []string{strconv.Itoa(c.pageSize)},
			"startIndex":     []string{strconv.Itoa(startIndex)},
		}

		var env envelope
		if err := c.http.GetJSON(ctx, "", query, &env); err != nil {
			telemetry.FeedRequests.WithLabelValues("nvd", "error").Inc()
			return res, fmt.Errorf("nvd: %w: %w", model.ErrFeedUnavailable, err)
		}
		telemetry.FeedRequests.WithLabelValues("nvd", "ok").Inc()

		capped := false
		for _, v := range env.Vulnerabilities {
			res.Fetched++

			rec, reason := normalize(v.CVE)
			if reason != "" {
				res.Dropped++
				telemetry.RecordsDropped.WithLabelValues("nvd", reason).Inc()
				slog.Debug("dropping feed record", "id", v.CVE.ID, "reason", reason)
				continue
			}

			if _, dup := seen[rec.ID]; dup {
				res.Duplicates++
				continue
			}
			seen[rec.ID] = struct{}{}
			res.Records = append(res.Records, rec)

			if window.MaxResults > 0 && len(res.Records) >= window.MaxResults {
				capped = true
				break
			}
		}

		got := len(env.Vulnerabilities)
		startIndex += got
		if capped || got == 0 || startIndex >= env.TotalResults {
			break
		}
	}

	telemetry.RecordsFetched.WithLabelValues("nvd").Add(float64(len(res.Records)))
	slog.Debug("nvd fetch complete",
		"fetched", res.Fetched,
		"dropped", res.Dropped,
		"duplicates", res.Duplicates,
		"kept", len(res.Records))
	return res, nil
}

// normalize maps one upstream CVE entry to a VulnerabilityRecord. A
// non-empty reason means the entry must be dropped.
func normalize(item cveItem) (model.VulnerabilityRecord, string) {
	id := strings.TrimSpace(item.ID)
	if id == "" {
		return model.VulnerabilityRecord{}, "missing_id"
	}

	var desc string
	for _, d := range item.Descriptions {
		if d.Lang == "en" && strings.TrimSpace(d.Value) != "" {
			desc = strings.TrimSpace(d.Value)
			break
		}
	}
	if desc == "" {
		return model.VulnerabilityRecord{}, "no_english_description"
	}

	published, err := parseTime(item.Published)
	if err != nil {
		return model.VulnerabilityRecord{}, "bad_timestamp"
	}

	return model.VulnerabilityRecord{
		ID:             id,
		RawDescription: desc,
		PublishedAt:    published,
	}, ""
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{timeLayout, time.RFC3339} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("nvd: unrecognized timestamp %q", s)
}
