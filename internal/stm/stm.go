// Package stm implements short-term memory: a bounded per-user buffer of
// recent conversation turns with configurable context rendering.
//
// Rows are retained newest-first up to the configured buffer size; overflow
// evicts oldest rows. Reads return chronological order regardless of the
// backend's native ordering. The [Guard] wrapper keeps the component alive in
// degraded mode when the backing store is unreachable.
package stm

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/solace/internal/config"
)

// MessageKind distinguishes the two sides of a conversation turn.
type MessageKind string

const (
	KindUser MessageKind = "user"
	KindBot  MessageKind = "bot"
)

// IsValid reports whether k is a recognised message kind.
func (k MessageKind) IsValid() bool {
	return k == KindUser || k == KindBot
}

// roleFor maps a message kind to the LLM chat role used by the structured
// context format.
func roleFor(k MessageKind) string {
	if k == KindBot {
		return "assistant"
	}
	return "user"
}

// ErrInvalidKind reports an append with an unrecognised message kind.
var ErrInvalidKind = errors.New("stm: invalid message kind")

// Row is one stored conversation message.
type Row struct {
	UserID  string
	Kind    MessageKind
	Content string

	// Metadata carries structured annotations. Truncation is recorded here
	// under the "truncated" and "original_length" keys.
	Metadata map[string]any

	// Sequence is assigned by the store, monotone per user.
	Sequence int64

	Timestamp time.Time
}

// Store is the short-term memory persistence contract.
type Store interface {
	// Append stores row, assigning its sequence number, and evicts the
	// user's oldest rows beyond the buffer size.
	Append(ctx context.Context, row Row) (Row, error)

	// Recent returns up to limit of the user's newest rows in chronological
	// order (oldest of the returned window first).
	Recent(ctx context.Context, userID string, limit int) ([]Row, error)

	// Clear removes all rows of the user.
	Clear(ctx context.Context, userID string) error

	// Count returns the user's retained row count.
	Count(ctx context.Context, userID string) (int, error)

	// Close releases backend resources.
	Close(ctx context.Context) error
}

// Truncate shortens content to max runes. It reports whether truncation
// happened; callers record that in the row metadata.
func Truncate(content string, max int) (string, bool) {
	if max <= 0 {
		return content, false
	}
	runes := []rune(content)
	if len(runes) <= max {
		return content, false
	}
	return string(runes[:max]), true
}

// PrepareRow normalises an incoming message into a storable row, applying
// content truncation per cfg.
func PrepareRow(cfg config.STMConfig, userID string, kind MessageKind, content string, metadata map[string]any) (Row, error) {
	if !kind.IsValid() {
		return Row{}, ErrInvalidKind
	}

	stored, truncated := Truncate(content, cfg.MessageMaxLength)
	if truncated {
		if metadata == nil {
			metadata = make(map[string]any, 2)
		}
		metadata["truncated"] = true
		metadata["original_length"] = len([]rune(content))
	}

	return Row{
		UserID:    userID,
		Kind:      kind,
		Content:   stored,
		Metadata:  metadata,
		Timestamp: time.Now().UTC(),
	}, nil
}

// FormatContext renders rows into the payload shape carried by a
// ContextResponse message. Structured format maps rows to LLM chat messages;
// text format returns raw kind/content/timestamp triples.
func FormatContext(rows []Row, format config.ContextFormat) []map[string]any {
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		switch format {
		case config.FormatText:
			out = append(out, map[string]any{
				"type":      string(row.Kind),
				"content":   row.Content,
				"timestamp": row.Timestamp.Format(time.RFC3339),
			})
		default:
			out = append(out, map[string]any{
				"role":    roleFor(row.Kind),
				"content": row.Content,
			})
		}
	}
	return out
}
