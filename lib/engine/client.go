package engine

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"checkin-backend/lib/sessionstore"
	"checkin-backend/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"github.com/mazen160/go-random"
)

// legacy forum engines rate-limit and fingerprint aggressively, so
// every fresh client gets a browser user agent picked at random
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:109.0) Gecko/20100101 Firefox/115.0",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
}

func randomUserAgent() string {
	idx, err := random.IntRange(0, len(userAgents))
	if err != nil {
		idx = 0
	}
	return userAgents[idx]
}

func (e *Engine) newClient(site Site) *resty.Client {
	client := resty.New()
	client.SetBaseURL(site.BaseUrl())

	jar, err := cookiejar.New(nil)
	if err == nil {
		client.SetCookieJar(jar)
	}
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	client.SetHeader("user-agent", randomUserAgent())
	if base, err := url.Parse(site.BaseUrl()); err == nil {
		client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(base.Hostname()))
	}
	client.SetTimeout(e.httpTimeout)

	telemetry.InstrumentResty(client, "checkin.lib.engine.http")
	return client
}

func (e *Engine) applySession(site Site, client *resty.Client, rec sessionstore.Record) {
	if codec, ok := site.(SessionCodec); ok {
		codec.ApplySession(client, rec)
		return
	}

	base, err := url.Parse(client.BaseURL)
	if err != nil {
		return
	}
	cookies := make([]*http.Cookie, 0, len(rec.Cookies))
	for name, value := range rec.Cookies {
		cookies = append(cookies, &http.Cookie{Name: name, Value: value})
	}
	client.GetClient().Jar.SetCookies(base, cookies)
}

func (e *Engine) extractSession(site Site, client *resty.Client, res *resty.Response) (sessionstore.Record, bool) {
	if codec, ok := site.(SessionCodec); ok {
		return codec.ExtractSession(client, res)
	}

	base, err := url.Parse(client.BaseURL)
	if err != nil {
		return sessionstore.Record{}, false
	}
	jar := client.GetClient().Jar
	if jar == nil {
		return sessionstore.Record{}, false
	}

	cookies := jar.Cookies(base)
	if len(cookies) == 0 {
		return sessionstore.Record{}, false
	}
	m := make(map[string]string, len(cookies))
	for _, c := range cookies {
		m[c.Name] = c.Value
	}
	return sessionstore.Record{Cookies: m, IssuedAt: time.Now()}, true
}
