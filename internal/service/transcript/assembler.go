// Package transcript assembles the full transcript document for a
// finalized session.
package transcript

import (
	"context"
	"fmt"
	"strings"
	"time"

	"medical-transcription-service/internal/models"
	"medical-transcription-service/internal/registry"
)

// Document is the assembled transcript for one session.
type Document struct {
	SessionID string
	Provider  string
	Text      string
	WordCount int
}

// Assembler reads persisted finalized segments and renders them into one
// ordered document.
type Assembler struct {
	registry registry.Registry
}

// NewAssembler creates an assembler over the given registry.
func NewAssembler(reg registry.Registry) *Assembler {
	return &Assembler{registry: reg}
}

// Assemble builds the transcript document for the session. Returns
// registry.ErrSessionNotFound when the session id is unknown.
func (a *Assembler) Assemble(ctx context.Context, sessionID string) (*Document, error) {
	sess, err := a.registry.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	segments, err := a.registry.Segments(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &Document{
		SessionID: sessionID,
		Provider:  sess.Provider,
		Text:      Render(segments),
		WordCount: WordCount(segments),
	}, nil
}

// Render formats each finalized segment as "[timestamp] [provider] text"
// and joins entries with a blank line between them.
func Render(segments []models.TranscriptSegment) string {
	lines := make([]string, 0, len(segments))
	for _, seg := range segments {
		if !seg.IsFinal {
			continue
		}
		lines = append(lines, fmt.Sprintf("[%s] [%s] %s",
			seg.Timestamp.UTC().Format(time.RFC3339), seg.Provider, seg.Text))
	}
	return strings.Join(lines, "\n\n")
}

// WordCount counts the whitespace-separated words of the spoken text,
// ignoring the timestamp and provider markers of the rendered document.
func WordCount(segments []models.TranscriptSegment) int {
	count := 0
	for _, seg := range segments {
		if !seg.IsFinal {
			continue
		}
		count += len(strings.Fields(seg.Text))
	}
	return count
}
