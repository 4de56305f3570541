package parser

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"github.com/otiai10/gosseract/v2"
)

// tesseractEngine recognizes page text with Tesseract in automatic page
// segmentation mode. A fresh client per call keeps the engine safe for
// concurrent parses; libtesseract handles are not shareable.
type tesseractEngine struct{}

func (tesseractEngine) Recognize(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode page image: %w", err)
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetPageSegMode(gosseract.PSM_AUTO); err != nil {
		return "", fmt.Errorf("set page segmentation mode: %w", err)
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return "", fmt.Errorf("load page image: %w", err)
	}
	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("recognize text: %w", err)
	}
	return text, nil
}

// redChannel projects an image onto its red color channel. The rating
// tables print counts in a red-tinted scheme where the red channel carries
// the sharpest digit edges, which measurably improves recognition. Images
// without color channels pass through unchanged.
func redChannel(img image.Image) image.Image {
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		return img
	}

	b := img.Bounds()
	out := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, _, _, _ := img.At(x, y).RGBA()
			out.SetGray(x, y, color.Gray{Y: uint8(r >> 8)})
		}
	}
	return out
}
