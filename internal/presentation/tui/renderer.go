package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"

	"github.com/aretw0/parley/pkg/domain"
)

// NewRenderer returns a function that renders markdown using glamour.
func NewRenderer() func(string) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(), // Automatically detect light/dark background
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return func(markdown string) (string, error) { return markdown, nil }
	}

	return func(markdown string) (string, error) {
		return r.Render(markdown)
	}
}

// HistoryMarkdown formats a session history as a markdown transcript, oldest first.
func HistoryMarkdown(sessionID string, h domain.History) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Session `%s`\n\n", sessionID)
	if len(h) == 0 {
		b.WriteString("_No turns yet._\n")
		return b.String()
	}
	for i, t := range h {
		at := time.UnixMilli(t.At).UTC().Format(time.RFC3339)
		fmt.Fprintf(&b, "### %d. %s\n\n", i+1, at)
		fmt.Fprintf(&b, "**You:** %s\n\n", t.User)
		fmt.Fprintf(&b, "**AI:** %s\n\n", t.AI)
	}
	return b.String()
}
