package llm

import (
	"fmt"
	"strings"

	"github.com/scrypster/aide/pkg/types"
)

// RenderMessage flattens a conversation message into provider-neutral
// text. Historical attachments are carried as filename + description
// hints only; the bytes are never re-sent once a turn is over, which is
// what keeps the archived context cheap.
func RenderMessage(m types.Message) string {
	var sb strings.Builder
	sb.WriteString(m.Content)

	for _, att := range m.Attachments {
		sb.WriteString(renderAttachment("attached", att))
	}
	for _, att := range m.Referenced {
		sb.WriteString(renderAttachment("referenced", att))
	}
	for _, att := range m.Downloaded {
		sb.WriteString(renderAttachment("downloaded", att))
	}

	return sb.String()
}

func renderAttachment(origin string, att types.Attachment) string {
	if att.Description != "" {
		return fmt.Sprintf("\n[%s %s: %s - %s]", origin, att.Kind, att.Filename, att.Description)
	}
	return fmt.Sprintf("\n[%s %s: %s]", origin, att.Kind, att.Filename)
}

// joinSystem concatenates the turn's context strings into one system
// prompt, skipping empties.
func joinSystem(parts []string) string {
	var kept []string
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}
