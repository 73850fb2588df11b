// Package specialty routes free-text symptoms to a medical specialty label.
package specialty

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Fallback is used whenever classification fails or is ambiguous.
const Fallback = "General Physician"

const maxLabelWords = 5

// TextClassifier is the external text-to-label call.
type TextClassifier interface {
	ClassifyText(ctx context.Context, prompt string) (string, error)
}

type Classifier struct {
	client TextClassifier
	logger zerolog.Logger
}

// NewClassifier returns a Classifier. A nil client makes every call return
// Fallback.
func NewClassifier(client TextClassifier, logger zerolog.Logger) *Classifier {
	return &Classifier{client: client, logger: logger.With().Str("component", "specialty").Logger()}
}

func buildPrompt(symptoms string) string {
	return fmt.Sprintf(`You route patients to the right kind of doctor.
Reply with exactly one medical specialty name, for example Cardiology,
Dermatology, Neurology, Orthopedics, Pediatrics, Psychiatry or General Physician.
Do not explain. If unsure, reply General Physician.

Symptoms: %s`, strings.TrimSpace(symptoms))
}

// Classify makes a single classifier call and never fails; any error or
// unusable answer yields Fallback.
func (c *Classifier) Classify(ctx context.Context, symptoms string) string {
	if c.client == nil || strings.TrimSpace(symptoms) == "" {
		return Fallback
	}
	raw, err := c.client.ClassifyText(ctx, buildPrompt(symptoms))
	if err != nil {
		c.logger.Warn().Err(err).Msg("specialty classification failed, using fallback")
		return Fallback
	}
	label, ok := Normalize(raw)
	if !ok {
		c.logger.Debug().Str("raw", raw).Msg("unusable classifier output, using fallback")
		return Fallback
	}
	return label
}

// Normalize cleans a raw classifier answer into a single label. It reports
// false when the answer is empty, names more than one specialty, or reads
// like a sentence.
func Normalize(raw string) (string, bool) {
	line := strings.TrimSpace(raw)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	line = strings.Trim(line, "\"'`*.:;!- \t")
	if lower := strings.ToLower(line); strings.HasPrefix(lower, "specialty:") {
		line = strings.TrimSpace(line[len("specialty:"):])
		line = strings.Trim(line, "\"'`*.:;!- \t")
	}
	if line == "" {
		return "", false
	}

	lower := " " + strings.ToLower(line) + " "
	if strings.Contains(lower, " or ") || strings.ContainsAny(line, ",/") {
		return "", false
	}
	switch strings.TrimSpace(lower) {
	case "unknown", "none", "n/a", "not sure":
		return "", false
	}
	if len(strings.Fields(line)) > maxLabelWords {
		return "", false
	}
	return line, true
}
