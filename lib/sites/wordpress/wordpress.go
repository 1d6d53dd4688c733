// Package wordpress targets membership portals built on WordPress
// themes that expose login and daily checkin through admin-ajax.php
// actions. There is no captcha and no page scraping, both operations
// are single form posts with JSON replies.
package wordpress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"checkin-backend/lib/engine"

	"github.com/go-resty/resty/v2"
)

const ajaxPath = "/wp-admin/admin-ajax.php"

type Options struct {
	Name    string
	BaseUrl string
	// CheckinAction is the admin-ajax action name the theme registers,
	// commonly "user_checkin" or "user_qiandao".
	CheckinAction string
}

type Site struct {
	name          string
	baseUrl       string
	checkinAction string
}

func New(opts Options) (*Site, error) {
	if opts.BaseUrl == "" {
		return nil, errors.New("wordpress site requires a base url")
	}
	if opts.Name == "" {
		opts.Name = "wordpress"
	}
	if opts.CheckinAction == "" {
		opts.CheckinAction = "user_checkin"
	}
	return &Site{
		name:          opts.Name,
		baseUrl:       strings.TrimRight(opts.BaseUrl, "/"),
		checkinAction: opts.CheckinAction,
	}, nil
}

func (s *Site) Name() string    { return s.name }
func (s *Site) BaseUrl() string { return s.baseUrl }

// FetchChallenge is a no-op: the ajax login carries no dynamic tokens
// and no captcha, so every attempt submits straight away.
func (s *Site) FetchChallenge(ctx context.Context, client *resty.Client) (engine.Challenge, error) {
	return engine.Challenge{}, nil
}

func (s *Site) LoginRequest(account engine.Account, ch engine.Challenge, captchaText string) engine.LoginSubmission {
	return engine.LoginSubmission{
		Path: ajaxPath,
		Form: map[string]string{
			"action":   "user_login",
			"username": account.Identity,
			"password": account.Secret,
		},
	}
}

// ajaxReply covers the response shapes the common themes emit: older
// ones report status as the string "1", newer ones a boolean error
// flag plus reward fields.
type ajaxReply struct {
	Status        string          `json:"status"`
	Error         *bool           `json:"error"`
	Msg           string          `json:"msg"`
	ContinuousDay json.RawMessage `json:"continuous_day"`
	Data          struct {
		Points json.RawMessage `json:"points"`
	} `json:"data"`
}

func (r ajaxReply) ok() bool {
	if r.Status == "1" {
		return true
	}
	return r.Error != nil && !*r.Error
}

func (s *Site) ClassifyLogin(res *resty.Response) engine.LoginStatus {
	var reply ajaxReply
	if err := json.Unmarshal(res.Body(), &reply); err != nil {
		return engine.LoginRetry
	}
	if reply.ok() {
		return engine.LoginSuccess
	}
	// no captcha means a rejection is about the credentials, not a
	// misread worth retrying
	return engine.LoginBadCredentials
}

// Checkin posts the theme's checkin action and classifies the JSON
// reply by its error markers.
func (s *Site) Checkin(ctx context.Context, client *resty.Client) engine.CheckinResult {
	res, err := client.R().
		SetContext(ctx).
		SetHeader("x-requested-with", "XMLHttpRequest").
		SetFormData(map[string]string{"action": s.checkinAction}).
		Post(ajaxPath)
	if err != nil {
		return engine.CheckinResult{Status: engine.CheckinOtherFailure, Detail: err.Error()}
	}

	var reply ajaxReply
	if err := json.Unmarshal(res.Body(), &reply); err != nil {
		return engine.CheckinResult{
			Status: engine.CheckinOtherFailure,
			Detail: fmt.Sprintf("unparseable checkin reply: %.120s", res.String()),
		}
	}

	if reply.ok() {
		return engine.CheckinResult{Status: engine.CheckinSucceeded, Detail: successDetail(reply)}
	}
	if strings.Contains(reply.Msg, "已经签到") || strings.Contains(reply.Msg, "已签到") {
		return engine.CheckinResult{Status: engine.CheckinAlreadyDone, Detail: reply.Msg}
	}
	if strings.Contains(reply.Msg, "登录") {
		return engine.CheckinResult{Status: engine.CheckinAuthInvalid, Detail: reply.Msg}
	}
	return engine.CheckinResult{Status: engine.CheckinOtherFailure, Detail: reply.Msg}
}

func successDetail(reply ajaxReply) string {
	detail := reply.Msg
	if len(reply.ContinuousDay) > 0 {
		detail = fmt.Sprintf("%s (连续签到 %s 天)", detail, string(reply.ContinuousDay))
	}
	if len(reply.Data.Points) > 0 {
		detail = fmt.Sprintf("%s (+%s 积分)", detail, string(reply.Data.Points))
	}
	return strings.TrimSpace(detail)
}
