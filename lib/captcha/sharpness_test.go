package captcha

import (
	"testing"

	"checkin-backend/lib/captcha/captchatest"

	"github.com/stretchr/testify/require"
)

func TestSharpnessOrdersByFocus(t *testing.T) {
	sharp := Sharpness(captchatest.Sharp(60, 24))
	smooth := Sharpness(captchatest.Smooth(60, 24))

	require.Greater(t, sharp, smooth)
	require.Greater(t, sharp, float64(0))
}

func TestSharpnessUndecodable(t *testing.T) {
	require.Equal(t, float64(0), Sharpness([]byte("garbage")))
	require.Equal(t, float64(0), Sharpness(nil))
}
