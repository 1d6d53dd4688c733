package captcha

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"checkin-backend/lib/telemetry"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/codes"
)

var tracer = telemetry.Tracer("checkin.lib.captcha")

// Candidate is one surviving ocr read of one frame.
type Candidate struct {
	Text       string
	Confidence float64
	Sharpness  float64
	FrameIndex int
}

type ClientOptions struct {
	// base url of the ocr oracle, a POST endpoint taking
	// {"image": <base64>} and answering {"result": ..., "confidence": ...}
	ServiceUrl string
	Timeout    time.Duration
}

// Client recognizes captcha challenges through an external ocr oracle.
type Client struct {
	http       *resty.Client
	serviceUrl string
}

func NewClient(opts ClientOptions) *Client {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = time.Second * 15
	}

	client := resty.New()
	client.SetTimeout(timeout)
	client.SetHeader("content-type", "application/json")
	telemetry.InstrumentResty(client, "checkin.lib.captcha.http")

	return &Client{
		http:       client,
		serviceUrl: opts.ServiceUrl,
	}
}

type ocrResponse struct {
	Result     string  `json:"result"`
	Confidence float64 `json:"confidence"`
}

// forum seccodes are always 4 alphanumeric characters
var validCaptchaText = regexp.MustCompile(`^[a-zA-Z0-9]{4}$`)

func (c *Client) recognizeFrame(ctx context.Context, frame Frame) (Candidate, bool) {
	sharpness := Sharpness(frame.Data)

	res, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"image": base64.StdEncoding.EncodeToString(frame.Data),
		}).
		Post(c.serviceUrl)
	if err != nil {
		slog.WarnContext(ctx, "ocr call failed", "frame", frame.Index, "err", err)
		return Candidate{}, false
	}
	if res.StatusCode() >= 300 {
		slog.WarnContext(ctx, "ocr call rejected", "frame", frame.Index, "status", res.StatusCode())
		return Candidate{}, false
	}

	var out ocrResponse
	err = json.Unmarshal(res.Body(), &out)
	if err != nil {
		slog.WarnContext(ctx, "ocr answered garbage", "frame", frame.Index, "err", err)
		return Candidate{}, false
	}

	text := strings.TrimSpace(out.Result)
	slog.DebugContext(
		ctx, "frame recognized",
		"frame", frame.Index,
		"text", text,
		"confidence", out.Confidence,
		"sharpness", sharpness,
	)
	if !validCaptchaText.MatchString(text) {
		return Candidate{}, false
	}

	return Candidate{
		Text:       text,
		Confidence: out.Confidence,
		Sharpness:  sharpness,
		FrameIndex: frame.Index,
	}, true
}

// Recognize scores every frame against the ocr oracle and returns the
// best surviving read, or the empty string when nothing survived.
// Frames are independent, so they are scored concurrently; a hung or
// failing oracle call only drops its own frame.
func (c *Client) Recognize(ctx context.Context, frames []Frame) string {
	ctx, span := tracer.Start(ctx, "Recognize")
	defer span.End()

	var candidates []Candidate
	lock := sync.Mutex{}
	wg := sync.WaitGroup{}

	for _, frame := range frames {
		wg.Add(1)
		go func(frame Frame) {
			defer wg.Done()

			candidate, ok := c.recognizeFrame(ctx, frame)
			if !ok {
				return
			}

			lock.Lock()
			defer lock.Unlock()
			candidates = append(candidates, candidate)
		}(frame)
	}

	wg.Wait()

	text := SelectBest(candidates)
	if text == "" {
		span.SetStatus(codes.Error, "no frame produced a valid read")
	}
	return text
}

// SelectBest picks the winning read: highest confidence first, with
// sharpness breaking ties between equally confident reads and frame
// order keeping the result deterministic beyond that. An empty
// candidate set yields the empty string.
func SelectBest(candidates []Candidate) string {
	if len(candidates) == 0 {
		return ""
	}

	sorted := slices.Clone(candidates)
	slices.SortFunc(sorted, func(a, b Candidate) int {
		if a.Confidence != b.Confidence {
			if a.Confidence > b.Confidence {
				return -1
			}
			return 1
		}
		if a.Sharpness != b.Sharpness {
			if a.Sharpness > b.Sharpness {
				return -1
			}
			return 1
		}
		return a.FrameIndex - b.FrameIndex
	})
	return sorted[0].Text
}
