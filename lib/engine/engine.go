// Package engine implements the shared login + checkin workflow that
// every target site variant plugs into. A site contributes only its
// distinguishing details (endpoints, dynamic token extraction, marker
// classification); the retry protocol, captcha pipeline wiring and
// session reuse live here.
package engine

import (
	"context"
	"time"

	"checkin-backend/lib/captcha"
	"checkin-backend/lib/sessionstore"
	"checkin-backend/lib/telemetry"

	"github.com/go-resty/resty/v2"
)

var tracer = telemetry.Tracer("checkin.lib.engine")

// Account is one opaque credential pair. It is never persisted.
type Account struct {
	Identity string
	Secret   string
}

// Challenge holds the single-use dynamic values a login page issues.
// It is only valid for the page view that produced it and must be
// re-fetched for every submit.
type Challenge struct {
	FormToken    string
	SessionToken string
	CaptchaID    string
	// relative url of the captcha image. empty means the site has no
	// captcha and the solve step is skipped.
	CaptchaURL string
	Extra      map[string]string
}

type LoginStatus int

const (
	// the attempt failed for a transient reason (captcha mismatch,
	// malformed response); a fresh challenge cycle may succeed
	LoginRetry LoginStatus = iota
	LoginSuccess
	// the site explicitly rejected the credentials; retrying cannot help
	LoginBadCredentials
)

type CheckinStatus int

const (
	CheckinOtherFailure CheckinStatus = iota
	CheckinSucceeded
	CheckinAlreadyDone
	// the session was rejected as unauthenticated, the designed signal
	// to fall back to a full login
	CheckinAuthInvalid
)

// CheckinResult carries the classified outcome plus free-form site
// detail (streaks, credit balances) for the report.
type CheckinResult struct {
	Status CheckinStatus
	Detail string
}

// LoginSubmission describes the login POST of a site. Form fields are
// sent url-encoded; when Form is nil, JSON is sent as the body instead.
type LoginSubmission struct {
	Path string
	Form map[string]string
	JSON any
}

// Site is the capability interface a target site variant implements.
type Site interface {
	Name() string
	BaseUrl() string

	// FetchChallenge loads the login surface and extracts its dynamic
	// tokens. An incompletely rendered page is an error; the engine
	// answers with a fresh cycle, never by reusing the stale page.
	FetchChallenge(ctx context.Context, client *resty.Client) (Challenge, error)
	LoginRequest(account Account, ch Challenge, captchaText string) LoginSubmission
	ClassifyLogin(res *resty.Response) LoginStatus

	// Checkin performs the daily action with an authenticated client
	// and classifies the outcome from site-specific markers.
	Checkin(ctx context.Context, client *resty.Client) CheckinResult
}

// SessionCodec overrides the default cookie-jar session handling for
// sites whose authenticated state is a header token rather than
// cookies.
type SessionCodec interface {
	ApplySession(client *resty.Client, rec sessionstore.Record)
	ExtractSession(client *resty.Client, res *resty.Response) (sessionstore.Record, bool)
}

// CaptchaVerifier is implemented by sites that expose a server-side
// captcha pre-check, so a wrong read can be retried without consuming
// the login challenge.
type CaptchaVerifier interface {
	VerifyCaptcha(ctx context.Context, client *resty.Client, ch Challenge, text string) bool
}

type Options struct {
	Ocr   *captcha.Client
	Store *sessionstore.Store
	// full challenge cycles per login before giving up, default 3
	MaxRetry int
	// fixed delay between challenge cycles, default 3s; a little
	// jitter is added on top
	RetryDelay time.Duration
	// per-request timeout on site clients, default 30s
	HttpTimeout time.Duration
}

type Engine struct {
	ocr         *captcha.Client
	store       *sessionstore.Store
	maxRetry    int
	retryDelay  time.Duration
	httpTimeout time.Duration
}

func New(opts Options) *Engine {
	if opts.MaxRetry <= 0 {
		opts.MaxRetry = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second * 3
	}
	if opts.HttpTimeout <= 0 {
		opts.HttpTimeout = time.Second * 30
	}
	return &Engine{
		ocr:         opts.Ocr,
		store:       opts.Store,
		maxRetry:    opts.MaxRetry,
		retryDelay:  opts.RetryDelay,
		httpTimeout: opts.HttpTimeout,
	}
}
