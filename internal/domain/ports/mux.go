package ports

import "context"

// Multiplexer is the slice of the terminal-multiplexer boundary the status
// detector needs: liveness and a bounded snapshot of recent pane content.
// The multiplexer, not the registry, is the source of truth for existence.
type Multiplexer interface {
	// HasSession reports whether the named session exists right now.
	HasSession(ctx context.Context, name string) bool

	// CapturePane returns the most recent visible pane content, bounded to
	// at most the given number of scrollback lines.
	CapturePane(ctx context.Context, name string, lines int) (string, error)
}
