// Package imaging downsamples and re-encodes captured photos before they are staged.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"

	// Registered decoders for camera and gallery input.
	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

var (
	ErrNotImage           = errors.New("imaging: input is not a decodable image")
	ErrResolutionTooLow   = errors.New("imaging: downscaling would drop below the minimum usable resolution")
	ErrCannotShrink       = errors.New("imaging: re-encoded image is larger than its input")
	ErrDimensionsTooLarge = errors.New("imaging: image dimensions exceed the decode limit")
)

// maxPixels bounds decode memory; 60 MP covers current phone cameras.
const maxPixels = 60_000_000

// minQuality is the floor when stepping JPEG quality down to stay under the input size.
const minQuality = 30

// Options configure a Compressor.
type Options struct {
	MaxEdge int // longest edge after resampling
	MinEdge int // short edge may not be resampled below this
	Quality int // JPEG quality factor
}

// Result is a compressed image.
type Result struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
	Resized     bool
}

// Compressor resamples and re-encodes images within fixed bounds.
type Compressor struct {
	opts Options
}

func NewCompressor(opts Options) *Compressor {
	if opts.MaxEdge <= 0 {
		opts.MaxEdge = 1920
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = 80
	}
	return &Compressor{opts: opts}
}

// Sniff reports the content type of data and whether it is an image this package can decode.
func Sniff(data []byte) (string, bool) {
	ct := http.DetectContentType(data)
	switch ct {
	case "image/jpeg", "image/png", "image/gif", "image/webp":
	default:
		return ct, false
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return ct, false
	}
	return ct, true
}

// Compress caps the longest edge at MaxEdge and re-encodes as JPEG. The result is
// never larger than the input: an input that needs no resampling and does not
// shrink is returned unchanged.
func (c *Compressor) Compress(data []byte) (*Result, error) {
	ct, ok := Sniff(data)
	if !ok {
		return nil, ErrNotImage
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, ErrNotImage
	}
	if cfg.Width*cfg.Height > maxPixels {
		return nil, ErrDimensionsTooLarge
	}

	w, h := TargetSize(cfg.Width, cfg.Height, c.opts.MaxEdge)
	resized := w != cfg.Width || h != cfg.Height
	if resized && c.opts.MinEdge > 0 && min(w, h) < c.opts.MinEdge {
		return nil, fmt.Errorf("%w: %dx%d would become %dx%d", ErrResolutionTooLow, cfg.Width, cfg.Height, w, h)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotImage, err)
	}

	// JPEG has no alpha; flatten onto white so transparent regions stay light.
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	if resized {
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
	} else {
		draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Over)
	}

	for q := c.opts.Quality; q >= minQuality; q -= 10 {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: q}); err != nil {
			return nil, fmt.Errorf("imaging: encode: %w", err)
		}
		if buf.Len() <= len(data) {
			return &Result{Data: buf.Bytes(), ContentType: "image/jpeg", Width: w, Height: h, Resized: resized}, nil
		}
		if !resized {
			// Already within bounds; the original is the smaller encoding.
			return &Result{Data: data, ContentType: ct, Width: w, Height: h}, nil
		}
	}
	return nil, ErrCannotShrink
}

// TargetSize scales (w, h) so the longest edge is at most maxEdge, preserving aspect ratio.
// Images are never upscaled.
func TargetSize(w, h, maxEdge int) (int, int) {
	longest := max(w, h)
	if longest <= maxEdge {
		return w, h
	}
	scale := float64(maxEdge) / float64(longest)
	nw := max(1, int(float64(w)*scale+0.5))
	nh := max(1, int(float64(h)*scale+0.5))
	if nw > maxEdge {
		nw = maxEdge
	}
	if nh > maxEdge {
		nh = maxEdge
	}
	return nw, nh
}
