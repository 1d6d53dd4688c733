// Package discuz targets forums running the Discuz! engine. Logins go
// through the member.php logging form with its single-use formhash and
// animated seccode captcha; the daily checkin goes through one of the
// common qiandao plugins.
package discuz

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"checkin-backend/lib/engine"
	"checkin-backend/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/mazen160/go-random"
)

const loginPath = "/member.php?mod=logging&action=login"

// qiandao moods the plugins accept; one is picked at random per checkin
var moods = []string{"kx", "ng", "ym", "wl", "nu", "ch", "fd", "yl", "shuai"}

var (
	loginSuccessMarkers  = []string{"欢迎您回来", "您已经登录", "登录成功"}
	loginRejectedMarkers = []string{"密码错误", "用户名无效"}
	checkinDoneMarkers   = []string{"签到成功", "已成功签到", "恭喜"}
	alreadyDoneMarkers   = []string{"您今天已经签到过了", "今日已签", "已经签到"}
	loggedOutMarkers     = []string{"未登录", "请先登录"}
)

var (
	loginhashPattern = regexp.MustCompile(`loginhash=(\w+)`)
	loginformPattern = regexp.MustCompile(`loginform_(\w+)`)
	idhashPattern    = regexp.MustCompile(`idhash=(\w+)`)
	messagePattern   = regexp.MustCompile(`(?s)<div class="c">\s*(.*?)\s*</div>`)
	creditPattern    = regexp.MustCompile(`积分[:：]\s*(\d+)`)
)

type Options struct {
	Name    string
	BaseUrl string
	// SignPlugin selects the qiandao plugin the forum runs,
	// "dsu_paulsign" (default) or "k_misign".
	SignPlugin string
	// VerifySeccode enables the seccode pre-check endpoint some boards
	// expose, catching a misread before it consumes the login form.
	VerifySeccode bool
}

type Site struct {
	name          string
	baseUrl       string
	signPlugin    string
	verifySeccode bool
}

func New(opts Options) (*Site, error) {
	if opts.BaseUrl == "" {
		return nil, errors.New("discuz site requires a base url")
	}
	if opts.Name == "" {
		opts.Name = "discuz"
	}
	switch opts.SignPlugin {
	case "":
		opts.SignPlugin = "dsu_paulsign"
	case "dsu_paulsign", "k_misign":
	default:
		return nil, fmt.Errorf("unknown sign plugin %q", opts.SignPlugin)
	}
	return &Site{
		name:          opts.Name,
		baseUrl:       strings.TrimRight(opts.BaseUrl, "/"),
		signPlugin:    opts.SignPlugin,
		verifySeccode: opts.VerifySeccode,
	}, nil
}

func (s *Site) Name() string    { return s.name }
func (s *Site) BaseUrl() string { return s.baseUrl }

// FetchChallenge loads the login form and pulls out its dynamic
// tokens. The form is rendered slightly differently across Discuz
// versions, so most tokens have a fallback extraction path.
func (s *Site) FetchChallenge(ctx context.Context, client *resty.Client) (engine.Challenge, error) {
	res, err := client.R().SetContext(ctx).Get(loginPath)
	if err != nil {
		return engine.Challenge{}, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body()))
	if err != nil {
		return engine.Challenge{}, err
	}

	formhash, _ := doc.Find(`input[name="formhash"]`).First().Attr("value")

	seccodehash, _ := doc.Find(`input[name="seccodehash"]`).First().Attr("value")
	if seccodehash == "" {
		// newer themes only carry the hash in the seccode span id
		if id, ok := doc.Find(`span[id^="seccode_"]`).First().Attr("id"); ok {
			seccodehash = strings.TrimPrefix(id, "seccode_")
		}
	}

	seccodemodid, _ := doc.Find(`input[name="seccodemodid"]`).First().Attr("value")
	if seccodemodid == "" {
		seccodemodid = "member::logging"
	}

	referer, _ := doc.Find(`input[name="referer"]`).First().Attr("value")
	if referer == "" {
		referer = s.baseUrl + "/"
	}

	loginhash := ""
	if form := doc.Find(`form[id^="loginform_"]`).First(); form.Length() > 0 {
		if id, ok := form.Attr("id"); ok {
			if m := loginformPattern.FindStringSubmatch(id); m != nil {
				loginhash = m[1]
			}
		}
		if loginhash == "" {
			if action, ok := form.Attr("action"); ok {
				if m := loginhashPattern.FindStringSubmatch(action); m != nil {
					loginhash = m[1]
				}
			}
		}
	}

	idhash := ""
	doc.Find("img").EachWithBreak(func(_ int, img *goquery.Selection) bool {
		src, _ := img.Attr("src")
		if m := idhashPattern.FindStringSubmatch(src); m != nil {
			idhash = m[1]
			return false
		}
		return true
	})
	if idhash == "" {
		idhash = seccodehash
	}

	if formhash == "" || seccodehash == "" {
		return engine.Challenge{}, errors.New("login page rendered without its dynamic tokens")
	}

	// cache buster, the seccode endpoint serves a stale frame otherwise
	buster, err := random.IntRange(100000, 1000000)
	if err != nil {
		buster = 100000
	}

	return engine.Challenge{
		FormToken:    formhash,
		SessionToken: loginhash,
		CaptchaID:    seccodehash,
		CaptchaURL:   fmt.Sprintf("/misc.php?mod=seccode&idhash=%s&update=%d", idhash, buster),
		Extra: map[string]string{
			"seccodemodid": seccodemodid,
			"referer":      referer,
		},
	}, nil
}

func (s *Site) LoginRequest(account engine.Account, ch engine.Challenge, captchaText string) engine.LoginSubmission {
	path := loginPath + "&loginsubmit=yes&inajax=1"
	if ch.SessionToken != "" {
		path += "&loginhash=" + ch.SessionToken
	}
	return engine.LoginSubmission{
		Path: path,
		Form: map[string]string{
			"formhash":      ch.FormToken,
			"referer":       ch.Extra["referer"],
			"username":      account.Identity,
			"password":      account.Secret,
			"questionid":    "0",
			"answer":        "",
			"seccodehash":   ch.CaptchaID,
			"seccodemodid":  ch.Extra["seccodemodid"],
			"seccodeverify": captchaText,
			"cookietime":    "2592000",
			"loginsubmit":   "true",
		},
	}
}

// ClassifyLogin reads the inajax response, which is an XML envelope
// around an HTML fragment. Marker matching on the raw body covers both
// the CDATA and plain variants.
func (s *Site) ClassifyLogin(res *resty.Response) engine.LoginStatus {
	body := res.String()
	for _, marker := range loginSuccessMarkers {
		if strings.Contains(body, marker) {
			return engine.LoginSuccess
		}
	}
	for _, marker := range loginRejectedMarkers {
		if strings.Contains(body, marker) {
			return engine.LoginBadCredentials
		}
	}
	return engine.LoginRetry
}

// VerifyCaptcha asks the board to pre-check a seccode read. Boards
// without the endpoint skip the check entirely.
func (s *Site) VerifyCaptcha(ctx context.Context, client *resty.Client, ch engine.Challenge, text string) bool {
	if !s.verifySeccode {
		return true
	}
	res, err := client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"mod":       "seccode",
			"action":    "check",
			"inajax":    "1",
			"modid":     ch.Extra["seccodemodid"],
			"idhash":    ch.CaptchaID,
			"secverify": text,
		}).
		Get("/misc.php")
	if err != nil {
		return false
	}
	return strings.Contains(res.String(), "succeed")
}

func (s *Site) signPage() string {
	if s.signPlugin == "k_misign" {
		return "/k_misign-sign.html"
	}
	return "/"
}

func (s *Site) signPath(formhash string) string {
	if s.signPlugin == "k_misign" {
		return fmt.Sprintf("/plugin.php?id=k_misign:sign&operation=qiandao&formhash=%s&format=empty", formhash)
	}
	return "/plugin.php?id=dsu_paulsign:sign&operation=qiandao&infloat=1&sign_as=1&inajax=1"
}

func (s *Site) signMode() string {
	if s.signPlugin == "k_misign" {
		return "1"
	}
	return "3"
}

// Checkin loads the sign page for a fresh formhash, submits the
// qiandao form with a random mood and classifies the plugin's reply.
func (s *Site) Checkin(ctx context.Context, client *resty.Client) engine.CheckinResult {
	res, err := client.R().SetContext(ctx).Get(s.signPage())
	if err != nil {
		return engine.CheckinResult{Status: engine.CheckinOtherFailure, Detail: err.Error()}
	}
	page := res.String()

	// a logged-in page always carries the logout link
	if !strings.Contains(page, "退出") {
		return engine.CheckinResult{Status: engine.CheckinAuthInvalid}
	}
	for _, marker := range alreadyDoneMarkers {
		if strings.Contains(page, marker) {
			return engine.CheckinResult{Status: engine.CheckinAlreadyDone}
		}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body()))
	if err != nil {
		return engine.CheckinResult{Status: engine.CheckinOtherFailure, Detail: err.Error()}
	}
	formhash, _ := doc.Find(`input[name="formhash"]`).First().Attr("value")
	if formhash == "" {
		return engine.CheckinResult{Status: engine.CheckinOtherFailure, Detail: "sign page without formhash"}
	}

	moodIdx, err := random.IntRange(0, len(moods))
	if err != nil {
		moodIdx = 0
	}

	res, err = client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"formhash":  formhash,
			"qdxq":      moods[moodIdx],
			"qdmode":    s.signMode(),
			"todaysay":  "",
			"fastreply": "0",
		}).
		Post(s.signPath(formhash))
	if err != nil {
		return engine.CheckinResult{Status: engine.CheckinOtherFailure, Detail: err.Error()}
	}

	body := res.String()
	message := ""
	if m := messagePattern.FindStringSubmatch(body); m != nil {
		message = htmlutil.CleanText(m[1])
	}

	for _, marker := range alreadyDoneMarkers {
		if strings.Contains(body, marker) {
			return engine.CheckinResult{Status: engine.CheckinAlreadyDone, Detail: message}
		}
	}
	for _, marker := range checkinDoneMarkers {
		if strings.Contains(body, marker) {
			return engine.CheckinResult{
				Status: engine.CheckinSucceeded,
				Detail: s.successDetail(ctx, client, message),
			}
		}
	}
	for _, marker := range loggedOutMarkers {
		if strings.Contains(body, marker) {
			return engine.CheckinResult{Status: engine.CheckinAuthInvalid, Detail: message}
		}
	}
	return engine.CheckinResult{Status: engine.CheckinOtherFailure, Detail: message}
}

// successDetail enriches a successful checkin with the current credit
// balance from the portal header. Any trouble here degrades to the
// plain plugin message.
func (s *Site) successDetail(ctx context.Context, client *resty.Client, message string) string {
	res, err := client.R().SetContext(ctx).Get("/")
	if err != nil {
		return message
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body()))
	if err != nil {
		return message
	}
	text := doc.Find("a#extcreditmenu").First().Text()
	if m := creditPattern.FindStringSubmatch(text); m != nil {
		return fmt.Sprintf("%s (积分 %s)", message, m[1])
	}
	return message
}
