package captcha

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"checkin-backend/lib/captcha/captchatest"
	"checkin-backend/lib/telemetry"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestSelectBest(t *testing.T) {
	testCases := []struct {
		name       string
		candidates []Candidate
		expected   string
	}{
		{
			name:       "empty",
			candidates: nil,
			expected:   "",
		},
		{
			name: "single",
			candidates: []Candidate{
				{Text: "AB12", Confidence: 0.1, Sharpness: 0},
			},
			expected: "AB12",
		},
		{
			name: "confidence wins over sharpness",
			candidates: []Candidate{
				{Text: "ZZ99", Confidence: 0.5, Sharpness: 99},
				{Text: "AB12", Confidence: 0.9, Sharpness: 10},
			},
			expected: "AB12",
		},
		{
			name: "sharpness breaks confidence ties",
			candidates: []Candidate{
				{Text: "LOW1", Confidence: 0.9, Sharpness: 10, FrameIndex: 0},
				{Text: "HIGH", Confidence: 0.9, Sharpness: 50, FrameIndex: 1},
				{Text: "ZZ99", Confidence: 0.5, Sharpness: 99, FrameIndex: 2},
			},
			expected: "HIGH",
		},
		{
			name: "frame order keeps full ties deterministic",
			candidates: []Candidate{
				{Text: "SECO", Confidence: 0.9, Sharpness: 50, FrameIndex: 1},
				{Text: "FIRS", Confidence: 0.9, Sharpness: 50, FrameIndex: 0},
			},
			expected: "FIRS",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			before := slicesClone(tc.candidates)

			got := SelectBest(tc.candidates)
			require.Equal(t, tc.expected, got)

			// the selection is a pure function, the input must not
			// get reordered under the caller
			if diff := cmp.Diff(before, tc.candidates); diff != "" {
				t.Fatalf("candidates mutated: %s", diff)
			}
		})
	}
}

func slicesClone(in []Candidate) []Candidate {
	if in == nil {
		return nil
	}
	out := make([]Candidate, len(in))
	copy(out, in)
	return out
}

type ocrRequest struct {
	Image string `json:"image"`
}

// newOracle serves canned ocr answers keyed by the base64 payload of
// the submitted frame.
func newOracle(t testing.TB, answers map[string]ocrResponse) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ocrRequest
		err := json.NewDecoder(r.Body).Decode(&req)
		if err != nil {
			t.Error(err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		answer, ok := answers[req.Image]
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(answer)
	}))
}

func TestRecognizeEmptyInput(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:lib/captcha")
	defer cleanup()

	client := NewClient(ClientOptions{ServiceUrl: "http://127.0.0.1:1/unreachable"})
	require.Equal(t, "", client.Recognize(context.Background(), nil))
}

func TestRecognizePicksBestFrame(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:lib/captcha")
	defer cleanup()

	frames, err := ExtractFrames(captchatest.Gif(2, 60, 24))
	require.NoError(t, err)
	require.Len(t, frames, 2)

	oracle := newOracle(t, map[string]ocrResponse{
		base64.StdEncoding.EncodeToString(frames[0].Data): {Result: "ab12", Confidence: 0.5},
		base64.StdEncoding.EncodeToString(frames[1].Data): {Result: "cd34", Confidence: 0.9},
	})
	defer oracle.Close()

	client := NewClient(ClientOptions{ServiceUrl: oracle.URL})
	require.Equal(t, "cd34", client.Recognize(context.Background(), frames))
}

func TestRecognizeDropsInvalidText(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:lib/captcha")
	defer cleanup()

	frames, err := ExtractFrames(captchatest.Gif(3, 60, 24))
	require.NoError(t, err)

	oracle := newOracle(t, map[string]ocrResponse{
		// too short and non-alphanumeric reads must never win, no
		// matter how confident the oracle claims to be
		base64.StdEncoding.EncodeToString(frames[0].Data): {Result: "AB1", Confidence: 1},
		base64.StdEncoding.EncodeToString(frames[1].Data): {Result: "AB1!", Confidence: 1},
		base64.StdEncoding.EncodeToString(frames[2].Data): {Result: " qr56 ", Confidence: 0.1},
	})
	defer oracle.Close()

	client := NewClient(ClientOptions{ServiceUrl: oracle.URL})
	require.Equal(t, "qr56", client.Recognize(context.Background(), frames))
}

func TestRecognizeAllFramesInvalid(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:lib/captcha")
	defer cleanup()

	frames, err := ExtractFrames(captchatest.Gif(2, 60, 24))
	require.NoError(t, err)

	oracle := newOracle(t, map[string]ocrResponse{
		base64.StdEncoding.EncodeToString(frames[0].Data): {Result: "nope!", Confidence: 1},
		base64.StdEncoding.EncodeToString(frames[1].Data): {Result: "", Confidence: 1},
	})
	defer oracle.Close()

	client := NewClient(ClientOptions{ServiceUrl: oracle.URL})
	require.Equal(t, "", client.Recognize(context.Background(), frames))
}

func TestRecognizeHungOracle(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:lib/captcha")
	defer cleanup()

	oracle := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))
	defer oracle.Close()

	frames, err := ExtractFrames(captchatest.Sharp(60, 24))
	require.NoError(t, err)

	client := NewClient(ClientOptions{
		ServiceUrl: oracle.URL,
		Timeout:    time.Millisecond * 50,
	})

	start := time.Now()
	require.Equal(t, "", client.Recognize(context.Background(), frames))
	require.Less(t, time.Since(start), time.Millisecond*800)
}
