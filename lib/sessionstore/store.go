// Package sessionstore persists the cookie/token set a successful
// login produces, keyed by site and account identity, so later runs
// can skip the captcha entirely.
package sessionstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"checkin-backend/lib/sessionstore/db"
	"checkin-backend/lib/telemetry"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel/codes"
)

var tracer = telemetry.Tracer("checkin.lib.sessionstore")

// Schema is the sql schema the backing database must carry.
var Schema = db.Schema

// Record is one stored session: the server-issued key/value state plus
// when it was established. The store never judges staleness, only the
// target site rejecting the session does.
type Record struct {
	Cookies  map[string]string `json:"cookies"`
	IssuedAt time.Time         `json:"issued_at"`
}

type Store struct {
	qry   *db.Queries
	cache *expirable.LRU[string, Record]
}

func NewStore(database *sql.DB) *Store {
	return &Store{
		qry:   db.New(database),
		cache: expirable.NewLRU[string, Record](2048, nil, time.Minute*15),
	}
}

func cacheKey(site, identity string) string {
	return site + "\x00" + identity
}

// Save durably records a session. The write is a single upsert
// statement, a concurrent reader sees either the old record or the new
// one, never a half-written row.
func (s *Store) Save(ctx context.Context, site, identity string, rec Record) error {
	ctx, span := tracer.Start(ctx, "Save")
	defer span.End()

	cookies, err := json.Marshal(rec.Cookies)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to serialize cookies")
		return err
	}

	err = s.qry.UpsertSession(ctx, db.UpsertSessionParams{
		Site:     site,
		Identity: identity,
		Cookies:  string(cookies),
		IssuedAt: rec.IssuedAt.Unix(),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upsert session row")
		return err
	}

	s.cache.Add(cacheKey(site, identity), rec)
	return nil
}

// Load returns the most recently saved session for the identity.
// Absent and corrupt rows both read as a miss; persistence trouble
// degrades to "no cached session" instead of failing the run.
func (s *Store) Load(ctx context.Context, site, identity string) (Record, bool) {
	ctx, span := tracer.Start(ctx, "Load")
	defer span.End()

	cached, hit := s.cache.Get(cacheKey(site, identity))
	if hit {
		return cached, true
	}

	row, err := s.qry.GetSession(ctx, db.GetSessionParams{
		Site:     site,
		Identity: identity,
	})
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read session row")
		slog.WarnContext(ctx, "session load failed, treating as absent", "site", site, "identity", identity, "err", err)
		return Record{}, false
	}

	var cookies map[string]string
	err = json.Unmarshal([]byte(row.Cookies), &cookies)
	if err != nil || len(cookies) == 0 {
		slog.WarnContext(ctx, "stored session is corrupt, treating as absent", "site", site, "identity", identity)
		return Record{}, false
	}

	rec := Record{
		Cookies:  cookies,
		IssuedAt: time.Unix(row.IssuedAt, 0),
	}
	s.cache.Add(cacheKey(site, identity), rec)
	return rec, true
}

// Delete discards a stored session, forcing the next run through the
// full login path.
func (s *Store) Delete(ctx context.Context, site, identity string) error {
	ctx, span := tracer.Start(ctx, "Delete")
	defer span.End()

	s.cache.Remove(cacheKey(site, identity))
	err := s.qry.DeleteSession(ctx, db.DeleteSessionParams{
		Site:     site,
		Identity: identity,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to delete session row")
		return err
	}
	return nil
}
