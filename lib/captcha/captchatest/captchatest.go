// Package captchatest synthesizes captcha-like images for tests, so
// the pipeline can be exercised without fixtures checked in as binary
// blobs.
package captchatest

import (
	"bytes"
	"image"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"image/png"

	"github.com/fogleman/gg"
)

// Sharp renders a png full of hard black-on-white edges, which scores
// high on any focus measure.
func Sharp(w, h int) []byte {
	dc := gg.NewContext(w, h)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	dc.SetRGB(0, 0, 0)
	dc.SetLineWidth(1)
	for x := 0; x < w; x += 4 {
		dc.DrawLine(float64(x), 0, float64(x), float64(h))
	}
	for y := 0; y < h; y += 4 {
		dc.DrawLine(0, float64(y), float64(w), float64(y))
	}
	dc.Stroke()

	return encodePng(dc.Image())
}

// Smooth renders a nearly flat png with only faint gradients, which
// scores low on any focus measure.
func Smooth(w, h int) []byte {
	dc := gg.NewContext(w, h)
	dc.SetRGB(0.5, 0.5, 0.5)
	dc.Clear()

	dc.SetRGBA(0.55, 0.55, 0.55, 0.5)
	dc.DrawCircle(float64(w)/2, float64(h)/2, float64(w))
	dc.Fill()

	return encodePng(dc.Image())
}

// Gif encodes an animated gif with the given number of distinct
// line-art frames.
func Gif(frames, w, h int) []byte {
	anim := &gif.GIF{}
	for i := 0; i < frames; i++ {
		dc := gg.NewContext(w, h)
		dc.SetRGB(1, 1, 1)
		dc.Clear()
		dc.SetRGB(0, 0, 0)
		dc.SetLineWidth(2)
		dc.DrawLine(float64(i*3), 0, float64(w-i*3), float64(h))
		dc.Stroke()

		paletted := image.NewPaletted(image.Rect(0, 0, w, h), palette.Plan9)
		draw.FloydSteinberg.Draw(paletted, paletted.Bounds(), dc.Image(), image.Point{})
		anim.Image = append(anim.Image, paletted)
		anim.Delay = append(anim.Delay, 10)
	}

	var buf bytes.Buffer
	err := gif.EncodeAll(&buf, anim)
	if err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func encodePng(img image.Image) []byte {
	var buf bytes.Buffer
	err := png.Encode(&buf, img)
	if err != nil {
		panic(err)
	}
	return buf.Bytes()
}
