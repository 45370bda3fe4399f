// Package detect defines the contract between the delivery pipeline and the
// keg detection / QR decoding models. The models themselves live outside
// this module.
package detect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Mode selects how hard the detector works on an image.
type Mode string

const (
	// ModeStandard is the fast first pass.
	ModeStandard Mode = "standard"
	// ModeEnhanced reprocesses the image with preprocessing and upscaling
	// when the standard pass falls short of the target count.
	ModeEnhanced Mode = "enhanced"
)

// Detector decodes the keg QR codes visible in a captured image.
type Detector interface {
	// Detect returns the decoded codes (in detection order, possibly with
	// repeats) and the number of kegs detected, which may exceed the
	// number of codes decoded.
	Detect(ctx context.Context, imageRef string, mode Mode) (codes []string, detections int, err error)
}

// Func adapts an ordinary function to the Detector interface.
type Func func(ctx context.Context, imageRef string, mode Mode) ([]string, int, error)

// Detect calls f.
func (f Func) Detect(ctx context.Context, imageRef string, mode Mode) ([]string, int, error) {
	return f(ctx, imageRef, mode)
}

// SidecarSuffix is appended to an image path to find its Static result.
const SidecarSuffix = ".codes.json"

// Sidecar is the on-disk format read by Static.
type Sidecar struct {
	Standard   []string `json:"standard"`
	Enhanced   []string `json:"enhanced,omitempty"`
	Detections int      `json:"detections,omitempty"`
}

// Static reads pre-decoded results from a JSON file next to each image
// (<image>.codes.json). It stands in for the real models on benches and in
// tests. A sidecar may also be a bare JSON array of codes.
type Static struct{}

// Detect implements Detector.
func (Static) Detect(ctx context.Context, imageRef string, mode Mode) ([]string, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	data, err := os.ReadFile(imageRef + SidecarSuffix)
	if err != nil {
		return nil, 0, fmt.Errorf("detect: read sidecar: %w", err)
	}

	var sc Sidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		var codes []string
		if listErr := json.Unmarshal(data, &codes); listErr != nil {
			return nil, 0, fmt.Errorf("detect: parse sidecar: %w", errors.Join(err, listErr))
		}
		sc.Standard = codes
	}

	codes := sc.Standard
	if mode == ModeEnhanced && sc.Enhanced != nil {
		codes = sc.Enhanced
	}
	detections := sc.Detections
	if detections < len(codes) {
		detections = len(codes)
	}
	return codes, detections, nil
}
