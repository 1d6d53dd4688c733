package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"checkin-backend/lib/captcha"

	"github.com/go-resty/resty/v2"
	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel/codes"
)

// ErrBadCredentials means the site explicitly rejected the username or
// password. Further login attempts for this account are pointless for
// the rest of the run.
var ErrBadCredentials = errors.New("the site rejected these credentials")

// ErrLoginExhausted means every challenge cycle failed for transient
// reasons.
var ErrLoginExhausted = errors.New("login attempts exhausted")

// Login drives the full authentication protocol for one account:
// fetch a fresh challenge, solve its captcha, submit, classify. At
// most MaxRetry full cycles run, each against a brand-new client and
// challenge; success persists the session before returning the
// authenticated client.
func (e *Engine) Login(ctx context.Context, site Site, account Account) (*resty.Client, error) {
	ctx, span := tracer.Start(ctx, "Login")
	defer span.End()

	for attempt := 1; attempt <= e.maxRetry; attempt++ {
		if attempt > 1 {
			if err := e.backoff(ctx); err != nil {
				return nil, err
			}
		}

		client, err := e.loginOnce(ctx, site, account, attempt)
		if errors.Is(err, errRetryChallenge) {
			continue
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "login aborted")
			return nil, err
		}
		return client, nil
	}

	span.SetStatus(codes.Error, ErrLoginExhausted.Error())
	return nil, ErrLoginExhausted
}

// errRetryChallenge restarts the cycle with a fresh challenge.
var errRetryChallenge = errors.New("retry with a fresh challenge")

func (e *Engine) loginOnce(ctx context.Context, site Site, account Account, attempt int) (*resty.Client, error) {
	log := slog.With("site", site.Name(), "identity", account.Identity, "attempt", attempt)

	// stale challenges are single-use at the server, every cycle gets
	// a new client with an empty cookie jar
	client := e.newClient(site)

	ch, err := site.FetchChallenge(ctx, client)
	if err != nil {
		log.WarnContext(ctx, "login challenge incomplete", "err", err)
		return nil, errRetryChallenge
	}

	captchaText := ""
	if ch.CaptchaURL != "" {
		captchaText, err = e.solveCaptcha(ctx, site, client, ch)
		if err != nil {
			log.WarnContext(ctx, "captcha not solved", "err", err)
			return nil, errRetryChallenge
		}
		log.DebugContext(ctx, "captcha solved", "text", captchaText)
	}

	sub := site.LoginRequest(account, ch, captchaText)
	req := client.R().SetContext(ctx)
	if sub.Form != nil {
		req.SetFormData(sub.Form)
	} else if sub.JSON != nil {
		req.SetBody(sub.JSON)
	}
	res, err := req.Post(sub.Path)
	if err != nil {
		log.WarnContext(ctx, "login submit failed", "err", err)
		return nil, errRetryChallenge
	}

	switch site.ClassifyLogin(res) {
	case LoginSuccess:
		log.InfoContext(ctx, "login succeeded")
		rec, ok := e.extractSession(site, client, res)
		if !ok {
			log.DebugContext(ctx, "no session state to persist")
			return client, nil
		}
		err := e.store.Save(ctx, site.Name(), account.Identity, rec)
		if err != nil {
			// a broken session store only costs the next run a full
			// login, it never fails this one
			log.WarnContext(ctx, "failed to persist session", "err", err)
		}
		return client, nil
	case LoginBadCredentials:
		log.ErrorContext(ctx, "credentials rejected, not retrying")
		return nil, ErrBadCredentials
	default:
		log.WarnContext(ctx, "login attempt failed, will refetch challenge")
		return nil, errRetryChallenge
	}
}

func (e *Engine) solveCaptcha(ctx context.Context, site Site, client *resty.Client, ch Challenge) (string, error) {
	ctx, span := tracer.Start(ctx, "solveCaptcha")
	defer span.End()

	res, err := client.R().
		SetContext(ctx).
		Get(ch.CaptchaURL)
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	frames, err := captcha.ExtractFrames(res.Body())
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	text := e.ocr.Recognize(ctx, frames)
	if text == "" {
		span.SetStatus(codes.Error, "no valid read among frames")
		return "", errors.New("recognition produced no valid read")
	}

	if verifier, ok := site.(CaptchaVerifier); ok {
		if !verifier.VerifyCaptcha(ctx, client, ch, text) {
			span.SetStatus(codes.Error, "server rejected captcha pre-check")
			return "", errors.New("server rejected the recognized captcha")
		}
	}
	return text, nil
}

// backoff waits the configured inter-cycle delay plus jitter, bailing
// early if the run deadline hits.
func (e *Engine) backoff(ctx context.Context) error {
	extra, err := random.IntRange(100, 1100)
	if err != nil {
		extra = 500
	}

	timer := time.NewTimer(e.retryDelay + time.Duration(extra)*time.Millisecond)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
