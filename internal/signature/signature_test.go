package signature

import (
	"bytes"
	"errors"
	"image/png"
	"strings"
	"testing"

	"github.com/parisxmas/fieldops/internal/models"
)

func scribble() []Stroke {
	return []Stroke{
		{Points: []Point{{20, 150}, {60, 40}, {100, 150}, {140, 40}, {180, 150}}},
		{Points: []Point{{220, 100}, {400, 110}}},
	}
}

func TestCaptureRendersPNGAndSVG(t *testing.T) {
	art, err := Capture(models.SignerCustomer, scribble(), Options{})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if art.Role != models.SignerCustomer || art.ContentType != "image/png" {
		t.Fatalf("unexpected artifact %+v", art)
	}
	img, err := png.Decode(bytes.NewReader(art.Content))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 600 || b.Dy() != 200 {
		t.Fatalf("bounds = %v", b)
	}
	// A point on the second stroke must carry ink.
	if _, _, _, a := img.At(300, 104).RGBA(); a == 0 {
		t.Fatal("no ink on the stroke")
	}
	if _, _, _, a := img.At(500, 20).RGBA(); a != 0 {
		t.Fatal("ink outside the strokes")
	}
	if !strings.Contains(art.SVG, `d="M20 150 L60 40`) {
		t.Fatalf("svg path missing: %s", art.SVG)
	}
}

func TestCaptureIsDeterministic(t *testing.T) {
	a, err := Capture(models.SignerInstaller, scribble(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	b, err := Capture(models.SignerInstaller, scribble(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a.Content, b.Content) || a.SVG != b.SVG {
		t.Fatal("same trace rendered differently")
	}
}

func TestCaptureRejectsEmptyTraces(t *testing.T) {
	tests := []struct {
		name    string
		strokes []Stroke
	}{
		{"nothing", nil},
		{"empty strokes", []Stroke{{}, {}}},
		{"single tap", []Stroke{{Points: []Point{{100, 100}}}}},
		{"jitter in place", []Stroke{{Points: []Point{{100, 100}, {101, 101}, {102, 100}, {101, 99}}}}},
		{"short dash", []Stroke{{Points: []Point{{100, 100}, {105, 100}, {110, 100}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Capture(models.SignerCustomer, tt.strokes, Options{})
			if !errors.Is(err, ErrEmptySignature) {
				t.Fatalf("expected ErrEmptySignature, got %v", err)
			}
		})
	}
}

func TestCaptureRejectsUnknownRole(t *testing.T) {
	if _, err := Capture("witness", scribble(), Options{}); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
}

func TestPointsAreClampedToPad(t *testing.T) {
	strokes := []Stroke{{Points: []Point{{-50, 100}, {900, 100}, {900, 500}}}}
	art, err := Capture(models.SignerCustomer, strokes, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(art.SVG, "M0 100 L600 100 L600 200") {
		t.Fatalf("points not clamped: %s", art.SVG)
	}
}
