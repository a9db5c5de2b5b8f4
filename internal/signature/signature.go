// Package signature turns a freehand trace from a signature pad into a portable artifact.
package signature

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/image/vector"

	"github.com/parisxmas/fieldops/internal/models"
)

var (
	ErrEmptySignature = errors.New("signature: trace is empty")
	ErrInvalidRole    = errors.New("signature: unknown signer role")
)

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Stroke is one pen-down to pen-up gesture.
type Stroke struct {
	Points []Point `json:"points"`
}

// Options describe the pad. Coordinates are expected in pad pixels; points
// outside the pad are clamped.
type Options struct {
	Width       int
	Height      int
	StrokeWidth float64
	MinPoints   int
	MinExtent   float64
	MinLength   float64
}

var DefaultOptions = Options{
	Width:       600,
	Height:      200,
	StrokeWidth: 2.5,
	MinPoints:   3,
	MinExtent:   8,
	MinLength:   20,
}

// Capture renders strokes for role. The same strokes always produce the same bytes.
func Capture(role models.SignerRole, strokes []Stroke, opts Options) (models.SignatureArtifact, error) {
	if !role.Valid() {
		return models.SignatureArtifact{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	opts = withDefaults(opts)
	strokes = clamp(strokes, opts)
	if err := checkInk(strokes, opts); err != nil {
		return models.SignatureArtifact{}, err
	}

	raster, err := renderPNG(strokes, opts)
	if err != nil {
		return models.SignatureArtifact{}, err
	}
	return models.SignatureArtifact{
		Role:        role,
		Content:     raster,
		ContentType: "image/png",
		SVG:         renderSVG(strokes, opts),
		Width:       opts.Width,
		Height:      opts.Height,
		CapturedAt:  time.Now().UTC(),
	}, nil
}

func withDefaults(o Options) Options {
	d := DefaultOptions
	if o.Width > 0 {
		d.Width = o.Width
	}
	if o.Height > 0 {
		d.Height = o.Height
	}
	if o.StrokeWidth > 0 {
		d.StrokeWidth = o.StrokeWidth
	}
	if o.MinPoints > 0 {
		d.MinPoints = o.MinPoints
	}
	if o.MinExtent > 0 {
		d.MinExtent = o.MinExtent
	}
	if o.MinLength > 0 {
		d.MinLength = o.MinLength
	}
	return d
}

func clamp(strokes []Stroke, o Options) []Stroke {
	out := make([]Stroke, 0, len(strokes))
	for _, s := range strokes {
		if len(s.Points) == 0 {
			continue
		}
		pts := make([]Point, len(s.Points))
		for i, p := range s.Points {
			pts[i] = Point{
				X: math.Max(0, math.Min(float64(o.Width), p.X)),
				Y: math.Max(0, math.Min(float64(o.Height), p.Y)),
			}
		}
		out = append(out, Stroke{Points: pts})
	}
	return out
}

// checkInk rejects taps and scribbles too small to be a signature.
func checkInk(strokes []Stroke, o Options) error {
	points := 0
	length := 0.0
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, s := range strokes {
		for i, p := range s.Points {
			points++
			minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
			minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
			if i > 0 {
				length += math.Hypot(p.X-s.Points[i-1].X, p.Y-s.Points[i-1].Y)
			}
		}
	}
	switch {
	case points < o.MinPoints:
		return fmt.Errorf("%w: %d points", ErrEmptySignature, points)
	case maxX-minX < o.MinExtent && maxY-minY < o.MinExtent:
		return fmt.Errorf("%w: %.0fx%.0f px", ErrEmptySignature, maxX-minX, maxY-minY)
	case length < o.MinLength:
		return fmt.Errorf("%w: %.0f px of ink", ErrEmptySignature, length)
	}
	return nil
}

func renderPNG(strokes []Stroke, o Options) ([]byte, error) {
	z := vector.NewRasterizer(o.Width, o.Height)
	r := float32(o.StrokeWidth / 2)
	for _, s := range strokes {
		for i, p := range s.Points {
			disc(z, float32(p.X), float32(p.Y), r)
			if i > 0 {
				segment(z, s.Points[i-1], p, r)
			}
		}
	}

	dst := image.NewNRGBA(image.Rect(0, 0, o.Width, o.Height))
	z.Draw(dst, dst.Bounds(), image.NewUniform(color.NRGBA{A: 255}), image.Point{})

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("signature: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// All shapes share a positive winding so overlapping ink saturates instead of cancelling.
func segment(z *vector.Rasterizer, a, b Point, r float32) {
	dx, dy := float32(b.X-a.X), float32(b.Y-a.Y)
	l := float32(math.Hypot(float64(dx), float64(dy)))
	if l == 0 {
		return
	}
	nx, ny := -dy/l*r, dx/l*r
	ax, ay, bx, by := float32(a.X), float32(a.Y), float32(b.X), float32(b.Y)
	z.MoveTo(ax-nx, ay-ny)
	z.LineTo(bx-nx, by-ny)
	z.LineTo(bx+nx, by+ny)
	z.LineTo(ax+nx, ay+ny)
	z.ClosePath()
}

func disc(z *vector.Rasterizer, x, y, r float32) {
	const sides = 16
	z.MoveTo(x+r, y)
	for i := 1; i < sides; i++ {
		a := 2 * math.Pi * float64(i) / sides
		z.LineTo(x+r*float32(math.Cos(a)), y+r*float32(math.Sin(a)))
	}
	z.ClosePath()
}

func renderSVG(strokes []Stroke, o Options) string {
	var d strings.Builder
	for _, s := range strokes {
		for i, p := range s.Points {
			if i == 0 {
				d.WriteString("M")
			} else {
				d.WriteString(" L")
			}
			d.WriteString(num(p.X))
			d.WriteByte(' ')
			d.WriteString(num(p.Y))
		}
		if len(s.Points) == 1 {
			d.WriteString(" h0")
		}
		d.WriteByte(' ')
	}
	return fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %d %d" width="%d" height="%d">`+
		`<path d="%s" fill="none" stroke="#000" stroke-width="%s" stroke-linecap="round" stroke-linejoin="round"/></svg>`,
		o.Width, o.Height, o.Width, o.Height, strings.TrimSpace(d.String()), num(o.StrokeWidth))
}

func num(f float64) string {
	return strconv.FormatFloat(math.Round(f*10)/10, 'f', -1, 64)
}
