package vigil

import (
	"time"

	"github.com/crimson-sun/vigil/internal/feed"
)

type options struct {
	bundlePath  string
	endpoint    string
	apiKey      string
	httpTimeout time.Duration
	workers     int
	previewLen  int
	source      feed.Source
}

// Option configures a Vigil instance.
type Option func(*options)

// WithBundlePath sets the model bundle file. Default: "vigil.db".
func WithBundlePath(path string) Option {
	return func(o *options) {
		o.bundlePath = path
	}
}

// WithEndpoint overrides the vulnerability feed base URL. Default: the
// public NVD CVE API 2.0.
func WithEndpoint(url string) Option {
	return func(o *options) {
		o.endpoint = url
	}
}

// WithAPIKey sets the NVD API key, raising the feed rate quota from 5 to 50
// requests per 30 seconds.
func WithAPIKey(key string) Option {
	return func(o *options) {
		o.apiKey = key
	}
}

// WithHTTPTimeout sets the per-request feed timeout. Default: 30s.
func WithHTTPTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.httpTimeout = d
		}
	}
}

// WithWorkers bounds batch inference concurrency. Default: 4.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithPreviewLength bounds the description preview carried in results.
// Default: 120 runes.
func WithPreviewLength(n int) Option {
	return func(o *options) {
		o.previewLen = n
	}
}

// withSource replaces the feed client, for tests.
func withSource(src feed.Source) Option {
	return func(o *options) {
		o.source = src
	}
}

func defaultOptions() options {
	return options{
		bundlePath:  "vigil.db",
		httpTimeout: 30 * time.Second,
	}
}
