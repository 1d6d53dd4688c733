// Package starry targets JSON REST services whose whole authenticated
// state is one opaque value sent back as a Token header. Login is a
// JSON credential post that returns the token; checkin is a JSON post
// against the sign endpoint.
package starry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"checkin-backend/lib/engine"
	"checkin-backend/lib/sessionstore"

	"github.com/go-resty/resty/v2"
)

const tokenHeader = "Token"

type Options struct {
	Name    string
	BaseUrl string
	// endpoint paths, defaulting to the starrycoding layout
	LoginPath string
	SignPath  string
}

type Site struct {
	name      string
	baseUrl   string
	loginPath string
	signPath  string
}

func New(opts Options) (*Site, error) {
	if opts.BaseUrl == "" {
		return nil, errors.New("starry site requires a base url")
	}
	if opts.Name == "" {
		opts.Name = "starry"
	}
	if opts.LoginPath == "" {
		opts.LoginPath = "/user/login"
	}
	if opts.SignPath == "" {
		opts.SignPath = "/user/task/sign"
	}
	return &Site{
		name:      opts.Name,
		baseUrl:   strings.TrimRight(opts.BaseUrl, "/"),
		loginPath: opts.LoginPath,
		signPath:  opts.SignPath,
	}, nil
}

func (s *Site) Name() string    { return s.name }
func (s *Site) BaseUrl() string { return s.baseUrl }

func (s *Site) FetchChallenge(ctx context.Context, client *resty.Client) (engine.Challenge, error) {
	return engine.Challenge{}, nil
}

func (s *Site) LoginRequest(account engine.Account, ch engine.Challenge, captchaText string) engine.LoginSubmission {
	return engine.LoginSubmission{
		Path: s.loginPath,
		JSON: map[string]string{
			"username": account.Identity,
			"password": account.Secret,
		},
	}
}

type apiReply struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		Token string `json:"token"`
		Coin  int    `json:"coin"`
	} `json:"data"`
}

func (s *Site) ClassifyLogin(res *resty.Response) engine.LoginStatus {
	if res.StatusCode() >= http.StatusInternalServerError {
		return engine.LoginRetry
	}
	var reply apiReply
	if err := json.Unmarshal(res.Body(), &reply); err != nil {
		return engine.LoginRetry
	}
	if reply.Code == 1 && reply.Data.Token != "" {
		return engine.LoginSuccess
	}
	return engine.LoginBadCredentials
}

// ApplySession restores the token header on a fresh client.
func (s *Site) ApplySession(client *resty.Client, rec sessionstore.Record) {
	client.SetHeader(tokenHeader, rec.Cookies["token"])
}

// ExtractSession pulls the token out of the login response and arms
// the client with it, the login client never saw a Set-Cookie.
func (s *Site) ExtractSession(client *resty.Client, res *resty.Response) (sessionstore.Record, bool) {
	var reply apiReply
	if err := json.Unmarshal(res.Body(), &reply); err != nil {
		return sessionstore.Record{}, false
	}
	if reply.Data.Token == "" {
		return sessionstore.Record{}, false
	}
	client.SetHeader(tokenHeader, reply.Data.Token)
	return sessionstore.Record{
		Cookies:  map[string]string{"token": reply.Data.Token},
		IssuedAt: time.Now(),
	}, true
}

func (s *Site) Checkin(ctx context.Context, client *resty.Client) engine.CheckinResult {
	res, err := client.R().
		SetContext(ctx).
		SetHeader("content-type", "application/json").
		Post(s.signPath)
	if err != nil {
		return engine.CheckinResult{Status: engine.CheckinOtherFailure, Detail: err.Error()}
	}

	if res.StatusCode() == http.StatusUnauthorized || res.StatusCode() == http.StatusForbidden {
		return engine.CheckinResult{Status: engine.CheckinAuthInvalid}
	}

	var reply apiReply
	if err := json.Unmarshal(res.Body(), &reply); err != nil {
		return engine.CheckinResult{
			Status: engine.CheckinOtherFailure,
			Detail: fmt.Sprintf("unparseable sign reply: %.120s", res.String()),
		}
	}

	switch {
	case res.StatusCode() == http.StatusCreated || reply.Code == 1:
		detail := reply.Msg
		if reply.Data.Coin > 0 {
			detail = strings.TrimSpace(fmt.Sprintf("%s +%d coin", reply.Msg, reply.Data.Coin))
		}
		return engine.CheckinResult{Status: engine.CheckinSucceeded, Detail: detail}
	case strings.Contains(reply.Msg, "已签到") || strings.Contains(reply.Msg, "已经签到"):
		return engine.CheckinResult{Status: engine.CheckinAlreadyDone, Detail: reply.Msg}
	case strings.Contains(reply.Msg, "登录") || strings.Contains(strings.ToLower(reply.Msg), "token"):
		return engine.CheckinResult{Status: engine.CheckinAuthInvalid, Detail: reply.Msg}
	default:
		return engine.CheckinResult{Status: engine.CheckinOtherFailure, Detail: reply.Msg}
	}
}
