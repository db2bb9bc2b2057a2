package generator

import (
	"errors"
	"regexp"
	"strings"
)

// Sentinel markers that mean the generator produced no usable CSS.
const (
	SentinelUnable = "/* Unable to process request */"
	sentinelAPIErr = "/* Gemini API Error:"
	sentinelErr    = "/* Error:"
)

var rejectedPrefixes = []string{SentinelUnable, sentinelAPIErr, sentinelErr}

// ErrEmptyOutput is returned for a blank generation result.
var ErrEmptyOutput = errors.New("generator returned no CSS")

// RejectedError carries the sentinel text the generator answered with.
type RejectedError struct {
	Text string
}

func (e *RejectedError) Error() string { return e.Text }

var (
	leadingFence  = regexp.MustCompile("^\\s*```(?:css)?\\s*")
	trailingFence = regexp.MustCompile("```\\s*$")
)

// Clean strips surrounding code fences and whitespace.
func Clean(text string) string {
	text = leadingFence.ReplaceAllString(text, "")
	text = trailingFence.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// Parse cleans raw and rejects empty output and sentinel comments. A
// rejection is a *RejectedError whose message is the sentinel itself.
func Parse(raw string) (string, error) {
	css := Clean(raw)
	if css == "" {
		return "", ErrEmptyOutput
	}
	for _, p := range rejectedPrefixes {
		if strings.HasPrefix(css, p) {
			return "", &RejectedError{Text: css}
		}
	}
	return css, nil
}
