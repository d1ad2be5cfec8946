// Package recognition asks an image-analysis provider what is in a snapshot and turns
// the answer into relevance decisions and plate candidates.
package recognition

import (
	"context"
	"fmt"
	"strings"
)

// DefaultLabels are the provider labels that mark a snapshot as worth reading.
var DefaultLabels = []string{"Vehicle", "Vehicle registration plate", "Car"}

type Provider interface {
	DetectLabels(ctx context.Context, imageRef string) ([]string, error)
	// DetectText returns text annotations; the first one is the full text block.
	DetectText(ctx context.Context, imageRef string) ([]string, error)
}

// RecognitionError wraps a provider failure. Code is the provider status (gRPC code
// name for Vision) and is used as a metric label.
type RecognitionError struct {
	Op   string
	Code string
	Err  error
}

func (e *RecognitionError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("recognition %s failed (%s): %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("recognition %s failed: %v", e.Op, e.Err)
}

func (e *RecognitionError) Unwrap() error {
	return e.Err
}

type Classifier struct {
	provider Provider
}

func NewClassifier(p Provider) *Classifier {
	return &Classifier{provider: p}
}

// Classify returns the labels seen in the image, in provider order.
func (c *Classifier) Classify(ctx context.Context, imageRef string) ([]string, error) {
	labels, err := c.provider.DetectLabels(ctx, imageRef)
	if err != nil {
		return nil, asRecognitionError("labels", err)
	}
	if labels == nil {
		labels = []string{}
	}
	return labels, nil
}

type Recognizer struct {
	provider Provider
}

func NewRecognizer(p Provider) *Recognizer {
	return &Recognizer{provider: p}
}

// Recognize returns plate candidates: text blocks that span a line break, joined onto
// one line. No readable text is an empty slice, not an error.
func (r *Recognizer) Recognize(ctx context.Context, imageRef string) ([]string, error) {
	annotations, err := r.provider.DetectText(ctx, imageRef)
	if err != nil {
		return nil, asRecognitionError("text", err)
	}
	return Candidates(annotations), nil
}

func Candidates(annotations []string) []string {
	out := []string{}
	for _, a := range annotations {
		if !strings.Contains(a, "\n") {
			continue
		}
		plate := strings.TrimSpace(strings.ReplaceAll(a, "\n", ""))
		if plate == "" {
			continue
		}
		out = append(out, plate)
	}
	return out
}

// IsRelevant reports whether any detected label is one of the configured labels.
// Matching is exact; providers report labels in title case.
func IsRelevant(labels, configured []string) bool {
	want := make(map[string]struct{}, len(configured))
	for _, l := range configured {
		want[l] = struct{}{}
	}
	for _, l := range labels {
		if _, ok := want[l]; ok {
			return true
		}
	}
	return false
}

func asRecognitionError(op string, err error) error {
	if re, ok := err.(*RecognitionError); ok {
		return re
	}
	return &RecognitionError{Op: op, Err: err}
}
