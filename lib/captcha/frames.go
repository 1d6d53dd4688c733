package captcha

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/gif"
	"image/png"

	_ "image/jpeg"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// ErrDecodeImage is returned when the fetched captcha bytes are not a
// recognizable image. The caller should re-fetch rather than give up.
var ErrDecodeImage = fmt.Errorf("unrecognizable captcha image")

// Frame is one still raster extracted from a captcha challenge,
// re-encoded as png regardless of the source format.
type Frame struct {
	Index int
	Data  []byte
}

// ExtractFrames decomposes captcha image bytes into independently
// scoreable frames. Animated gifs yield one frame per stored image in
// original order, anything else yields exactly one frame.
func ExtractFrames(data []byte) ([]Frame, error) {
	if anim, err := gif.DecodeAll(bytes.NewReader(data)); err == nil {
		return flattenGif(anim)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDecodeImage, err)
	}
	encoded, err := encodePng(img)
	if err != nil {
		return nil, err
	}
	return []Frame{{Index: 0, Data: encoded}}, nil
}

func flattenGif(anim *gif.GIF) ([]Frame, error) {
	if len(anim.Image) == 0 {
		return nil, ErrDecodeImage
	}

	bounds := image.Rect(0, 0, anim.Config.Width, anim.Config.Height)
	if bounds.Empty() {
		bounds = anim.Image[0].Bounds()
	}

	// seccode gifs repaint on top of the previous frame, so later
	// frames are composited onto a shared canvas before snapshotting
	canvas := image.NewRGBA(bounds)
	frames := make([]Frame, 0, len(anim.Image))
	for i, src := range anim.Image {
		draw.Draw(canvas, src.Bounds(), src, src.Bounds().Min, draw.Over)

		snapshot := image.NewRGBA(bounds)
		draw.Draw(snapshot, bounds, canvas, bounds.Min, draw.Src)
		encoded, err := encodePng(snapshot)
		if err != nil {
			return nil, err
		}
		frames = append(frames, Frame{Index: i, Data: encoded})
	}
	return frames, nil
}

func encodePng(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	err := png.Encode(&buf, img)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
