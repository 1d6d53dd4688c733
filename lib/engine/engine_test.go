package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"checkin-backend/lib/captcha"
	"checkin-backend/lib/captcha/captchatest"
	"checkin-backend/lib/sessionstore"
	"checkin-backend/lib/testutil"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
)

// scriptedSite lets tests drive the engine through every classification
// outcome without a real forum on the other end.
type scriptedSite struct {
	name string
	base string

	mu              sync.Mutex
	fetches         int
	fetchErr        error
	captchaUrl      string
	submittedText   string
	classify        func(identity string) LoginStatus
	checkins        []CheckinResult
	checkinCalls    int32
	checkinDelay    time.Duration
	inFlight        int32
	maxInFlightSeen int32
}

func (s *scriptedSite) Name() string    { return s.name }
func (s *scriptedSite) BaseUrl() string { return s.base }

func (s *scriptedSite) FetchChallenge(ctx context.Context, client *resty.Client) (Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	if s.fetchErr != nil {
		return Challenge{}, s.fetchErr
	}
	return Challenge{
		FormToken:  "formhash",
		CaptchaID:  "idhash",
		CaptchaURL: s.captchaUrl,
	}, nil
}

func (s *scriptedSite) LoginRequest(account Account, ch Challenge, captchaText string) LoginSubmission {
	s.mu.Lock()
	s.submittedText = captchaText
	s.mu.Unlock()
	return LoginSubmission{
		Path: "/login",
		Form: map[string]string{
			"formhash": ch.FormToken,
			"username": account.Identity,
			"password": account.Secret,
			"seccode":  captchaText,
		},
	}
}

func (s *scriptedSite) ClassifyLogin(res *resty.Response) LoginStatus {
	if s.classify == nil {
		return LoginSuccess
	}
	return s.classify(res.Request.FormData.Get("username"))
}

func (s *scriptedSite) Checkin(ctx context.Context, client *resty.Client) CheckinResult {
	current := atomic.AddInt32(&s.inFlight, 1)
	defer atomic.AddInt32(&s.inFlight, -1)
	for {
		seen := atomic.LoadInt32(&s.maxInFlightSeen)
		if current <= seen || atomic.CompareAndSwapInt32(&s.maxInFlightSeen, seen, current) {
			break
		}
	}
	if s.checkinDelay > 0 {
		time.Sleep(s.checkinDelay)
	}

	call := atomic.AddInt32(&s.checkinCalls, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(call) <= len(s.checkins) {
		return s.checkins[call-1]
	}
	return CheckinResult{Status: CheckinSucceeded}
}

// newSiteServer stands in for the forum: the login submit issues a
// session cookie, the captcha endpoint serves an animated gif.
func newSiteServer(t testing.TB) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/login" && r.Method == http.MethodPost:
			http.SetCookie(w, &http.Cookie{Name: "sid", Value: "fresh-session"})
			w.Write([]byte("ok"))
		case r.URL.Path == "/captcha.gif":
			w.Header().Set("content-type", "image/gif")
			w.Write(captchatest.Gif(2, 60, 24))
		default:
			w.Write([]byte("ok"))
		}
	}))
}

func newOcrServer(t testing.TB, result string, confidence float64) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"result":     result,
			"confidence": confidence,
		})
	}))
}

func setup(t testing.TB) (*Engine, *sessionstore.Store, func()) {
	database, cleanup := testutil.SetupDB(t, "lib/engine", sessionstore.Schema)
	store := sessionstore.NewStore(database)
	e := New(Options{
		Store:      store,
		MaxRetry:   3,
		RetryDelay: time.Millisecond,
	})
	return e, store, cleanup
}

func TestLoginRetryBound(t *testing.T) {
	e, _, cleanup := setup(t)
	defer cleanup()

	server := newSiteServer(t)
	defer server.Close()

	site := &scriptedSite{
		name:     "mock",
		base:     server.URL,
		fetchErr: errors.New("login page rendered without formhash"),
	}

	_, err := e.Login(context.Background(), site, Account{Identity: "alice", Secret: "pw"})
	require.ErrorIs(t, err, ErrLoginExhausted)
	require.Equal(t, 3, site.fetches)
}

func TestLoginAbortShortCircuit(t *testing.T) {
	e, _, cleanup := setup(t)
	defer cleanup()

	server := newSiteServer(t)
	defer server.Close()

	site := &scriptedSite{
		name: "mock",
		base: server.URL,
		classify: func(identity string) LoginStatus {
			return LoginBadCredentials
		},
	}

	_, err := e.Login(context.Background(), site, Account{Identity: "alice", Secret: "wrong"})
	require.ErrorIs(t, err, ErrBadCredentials)
	// wrong passwords do not get better with retries
	require.Equal(t, 1, site.fetches)
}

func TestLoginPersistsSession(t *testing.T) {
	e, store, cleanup := setup(t)
	defer cleanup()

	server := newSiteServer(t)
	defer server.Close()

	site := &scriptedSite{name: "mock", base: server.URL}

	client, err := e.Login(context.Background(), site, Account{Identity: "alice", Secret: "pw"})
	require.NoError(t, err)
	require.NotNil(t, client)

	rec, ok := store.Load(context.Background(), "mock", "alice")
	require.True(t, ok)
	require.Equal(t, "fresh-session", rec.Cookies["sid"])
}

func TestLoginSolvesCaptcha(t *testing.T) {
	e, _, cleanup := setup(t)
	defer cleanup()

	server := newSiteServer(t)
	defer server.Close()
	ocr := newOcrServer(t, "ab12", 0.9)
	defer ocr.Close()

	e.ocr = captcha.NewClient(captcha.ClientOptions{ServiceUrl: ocr.URL})

	site := &scriptedSite{
		name:       "mock",
		base:       server.URL,
		captchaUrl: "/captcha.gif",
	}

	_, err := e.Login(context.Background(), site, Account{Identity: "alice", Secret: "pw"})
	require.NoError(t, err)
	require.Equal(t, "ab12", site.submittedText)
}

func TestLoginRetriesOnBadCaptchaRead(t *testing.T) {
	e, _, cleanup := setup(t)
	defer cleanup()

	server := newSiteServer(t)
	defer server.Close()
	// 3 characters never passes validation, so every cycle fails at
	// the solve step
	ocr := newOcrServer(t, "ab1", 0.99)
	defer ocr.Close()

	e.ocr = captcha.NewClient(captcha.ClientOptions{ServiceUrl: ocr.URL})

	site := &scriptedSite{
		name:       "mock",
		base:       server.URL,
		captchaUrl: "/captcha.gif",
	}

	_, err := e.Login(context.Background(), site, Account{Identity: "alice", Secret: "pw"})
	require.ErrorIs(t, err, ErrLoginExhausted)
	require.Equal(t, 3, site.fetches)
}

func TestProcessAccountFallbackFlow(t *testing.T) {
	e, store, cleanup := setup(t)
	defer cleanup()

	server := newSiteServer(t)
	defer server.Close()

	err := store.Save(context.Background(), "mock", "alice", sessionstore.Record{
		Cookies:  map[string]string{"sid": "stale"},
		IssuedAt: time.Now().Add(-24 * time.Hour),
	})
	require.NoError(t, err)

	site := &scriptedSite{
		name: "mock",
		base: server.URL,
		checkins: []CheckinResult{
			{Status: CheckinAuthInvalid},
			{Status: CheckinSucceeded},
		},
	}

	result := e.ProcessAccount(context.Background(), site, Account{Identity: "alice", Secret: "pw"})
	require.True(t, result.Ok)

	// exactly one full login and exactly one checkin retry
	require.Equal(t, 1, site.fetches)
	require.Equal(t, int32(2), site.checkinCalls)

	rec, ok := store.Load(context.Background(), "mock", "alice")
	require.True(t, ok)
	require.Equal(t, "fresh-session", rec.Cookies["sid"])
}

func TestProcessAccountOtherFailureSkipsRelogin(t *testing.T) {
	e, store, cleanup := setup(t)
	defer cleanup()

	server := newSiteServer(t)
	defer server.Close()

	err := store.Save(context.Background(), "mock", "alice", sessionstore.Record{
		Cookies:  map[string]string{"sid": "valid"},
		IssuedAt: time.Now(),
	})
	require.NoError(t, err)

	site := &scriptedSite{
		name:     "mock",
		base:     server.URL,
		checkins: []CheckinResult{{Status: CheckinOtherFailure, Detail: "mood field rejected"}},
	}

	result := e.ProcessAccount(context.Background(), site, Account{Identity: "alice", Secret: "pw"})
	require.False(t, result.Ok)
	require.Equal(t, "checkin failed", result.Status)
	require.Equal(t, 0, site.fetches)
	require.Equal(t, int32(1), site.checkinCalls)
}

func TestRunAccountIsolation(t *testing.T) {
	e, _, cleanup := setup(t)
	defer cleanup()

	server := newSiteServer(t)
	defer server.Close()

	site := &scriptedSite{
		name: "mock",
		base: server.URL,
		classify: func(identity string) LoginStatus {
			if identity == "bob" {
				return LoginBadCredentials
			}
			return LoginSuccess
		},
	}

	accounts := []Account{
		{Identity: "alice", Secret: "pw"},
		{Identity: "bob", Secret: "wrong"},
		{Identity: "carol", Secret: "pw"},
	}

	report := e.Run(context.Background(), site, accounts, RunOptions{})
	require.Equal(t, 3, report.Total)
	require.Equal(t, 2, report.Succeeded)
	require.Len(t, report.Results, 3)

	require.Equal(t, "alice", report.Results[0].Identity)
	require.True(t, report.Results[0].Ok)
	require.Equal(t, "bob", report.Results[1].Identity)
	require.False(t, report.Results[1].Ok)
	require.Equal(t, "bad credentials", report.Results[1].Status)
	require.Equal(t, "carol", report.Results[2].Identity)
	require.True(t, report.Results[2].Ok)
}

func TestRunBoundsInFlightAccounts(t *testing.T) {
	e, store, cleanup := setup(t)
	defer cleanup()

	server := newSiteServer(t)
	defer server.Close()

	var accounts []Account
	for _, identity := range []string{"a", "b", "c", "d", "e"} {
		accounts = append(accounts, Account{Identity: identity, Secret: "pw"})
		err := store.Save(context.Background(), "mock", identity, sessionstore.Record{
			Cookies:  map[string]string{"sid": "valid"},
			IssuedAt: time.Now(),
		})
		require.NoError(t, err)
	}

	site := &scriptedSite{
		name:         "mock",
		base:         server.URL,
		checkinDelay: time.Millisecond * 20,
	}

	report := e.Run(context.Background(), site, accounts, RunOptions{MaxInFlight: 2})
	require.Equal(t, 5, report.Succeeded)
	require.LessOrEqual(t, site.maxInFlightSeen, int32(2))
}
