package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// AccountResult is the final word on one account for one run.
type AccountResult struct {
	Identity string
	Ok       bool
	// short human-readable outcome, e.g. "checked in"
	Status string
	// optional site-provided detail (streaks, credit balances)
	Detail string
}

// RunReport aggregates a whole run over one site's account set.
type RunReport struct {
	RunId     string
	Site      string
	Results   []AccountResult
	Succeeded int
	Total     int
}

type RunOptions struct {
	// maximum number of accounts in flight at once, default 1
	MaxInFlight int
	// base delay between starting consecutive accounts; jitter is
	// added on top to look less like a machine
	AccountDelay time.Duration
}

// ProcessAccount runs the whole workflow for a single account: cached
// session fast path, full login fallback, one checkin retry after a
// fresh login. It never panics the run; every outcome lands in the
// result.
func (e *Engine) ProcessAccount(ctx context.Context, site Site, account Account) AccountResult {
	ctx, span := tracer.Start(ctx, "ProcessAccount", trace.WithAttributes(
		attribute.String("site", site.Name()),
		attribute.String("identity", account.Identity),
	))
	defer span.End()

	log := slog.With("site", site.Name(), "identity", account.Identity)

	rec, ok := e.store.Load(ctx, site.Name(), account.Identity)
	if ok {
		client := e.newClient(site)
		e.applySession(site, client, rec)

		result := site.Checkin(ctx, client)
		switch result.Status {
		case CheckinSucceeded:
			log.InfoContext(ctx, "checked in with cached session")
			return AccountResult{Identity: account.Identity, Ok: true, Status: "checked in", Detail: result.Detail}
		case CheckinAlreadyDone:
			log.InfoContext(ctx, "already checked in today")
			return AccountResult{Identity: account.Identity, Ok: true, Status: "already checked in", Detail: result.Detail}
		case CheckinAuthInvalid:
			log.InfoContext(ctx, "cached session rejected, falling back to login")
			// discard, never mutate: the next login writes a fresh record
			err := e.store.Delete(ctx, site.Name(), account.Identity)
			if err != nil {
				log.WarnContext(ctx, "failed to discard stale session", "err", err)
			}
		default:
			// a non-auth failure will not improve by logging in again
			// with the same inputs
			log.WarnContext(ctx, "checkin failed", "detail", result.Detail)
			span.SetStatus(codes.Error, "checkin failed")
			return AccountResult{Identity: account.Identity, Ok: false, Status: "checkin failed", Detail: result.Detail}
		}
	}

	client, err := e.Login(ctx, site, account)
	if errors.Is(err, ErrBadCredentials) {
		span.SetStatus(codes.Error, "bad credentials")
		return AccountResult{Identity: account.Identity, Ok: false, Status: "bad credentials"}
	}
	if err != nil {
		span.SetStatus(codes.Error, "login failed")
		return AccountResult{Identity: account.Identity, Ok: false, Status: "login failed", Detail: err.Error()}
	}

	result := site.Checkin(ctx, client)
	switch result.Status {
	case CheckinSucceeded:
		log.InfoContext(ctx, "checked in after fresh login")
		return AccountResult{Identity: account.Identity, Ok: true, Status: "checked in", Detail: result.Detail}
	case CheckinAlreadyDone:
		return AccountResult{Identity: account.Identity, Ok: true, Status: "already checked in", Detail: result.Detail}
	default:
		log.WarnContext(ctx, "checkin failed after fresh login", "detail", result.Detail)
		span.SetStatus(codes.Error, "checkin failed after login")
		return AccountResult{Identity: account.Identity, Ok: false, Status: "checkin failed", Detail: result.Detail}
	}
}

// Run fans ProcessAccount out over the account set. Accounts are
// independent: they share nothing but the session store, which is
// partitioned by identity, so a bounded pool of workers is safe. One
// account failing never stops the rest.
func (e *Engine) Run(ctx context.Context, site Site, accounts []Account, opts RunOptions) RunReport {
	ctx, span := tracer.Start(ctx, "Run")
	defer span.End()

	maxInFlight := opts.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = 1
	}

	runId := uuid.NewString()
	slog.InfoContext(
		ctx, "starting checkin run",
		"run_id", runId,
		"site", site.Name(),
		"accounts", len(accounts),
		"max_in_flight", maxInFlight,
	)

	results := make([]AccountResult, len(accounts))
	sem := make(chan struct{}, maxInFlight)
	wg := sync.WaitGroup{}

	for i, account := range accounts {
		if i > 0 {
			e.stagger(ctx, opts.AccountDelay)
		}

		wg.Add(1)
		go func(i int, account Account) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			results[i] = e.ProcessAccount(ctx, site, account)
		}(i, account)
	}

	wg.Wait()

	succeeded := 0
	for _, r := range results {
		if r.Ok {
			succeeded++
		}
	}

	slog.InfoContext(
		ctx, "checkin run finished",
		"run_id", runId,
		"site", site.Name(),
		"succeeded", succeeded,
		"total", len(accounts),
	)
	return RunReport{
		RunId:     runId,
		Site:      site.Name(),
		Results:   results,
		Succeeded: succeeded,
		Total:     len(accounts),
	}
}

func (e *Engine) stagger(ctx context.Context, base time.Duration) {
	if base <= 0 {
		return
	}

	// up to half the base delay again in jitter, so launches never
	// land on a fixed cadence
	extraMs, err := random.IntRange(0, int(base.Milliseconds()/2)+1)
	if err != nil {
		extraMs = 0
	}

	timer := time.NewTimer(base + time.Duration(extraMs)*time.Millisecond)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
