package captcha

import (
	"bytes"
	"image"
	"image/color"
)

// Sharpness computes a focus measure for an encoded frame: the variance
// of a 3x3 Laplacian edge response over the grayscale raster. Blurrier
// frames score lower. Frames that cannot be decoded or are too small to
// convolve score 0 rather than failing the batch.
func Sharpness(data []byte) float64 {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return 0
	}

	bounds := img.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()
	if w < 3 || h < 3 {
		return 0
	}

	gray := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.GrayModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray)
			gray[y*w+x] = float64(c.Y)
		}
	}

	var sum, sumSq float64
	n := 0
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			lap := 4*gray[y*w+x] -
				gray[(y-1)*w+x] -
				gray[(y+1)*w+x] -
				gray[y*w+x-1] -
				gray[y*w+x+1]
			sum += lap
			sumSq += lap * lap
			n++
		}
	}

	mean := sum / float64(n)
	return sumSq/float64(n) - mean*mean
}
