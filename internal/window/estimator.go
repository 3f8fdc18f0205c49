// Package window implements the context estimator: an approximate token
// cost for messages and the pure split decision that keeps the active
// conversation bounded. The heuristic is deliberately model-agnostic;
// exact tokenization is a non-goal.
package window

import "github.com/scrypster/aide/pkg/types"

const (
	// attachmentHintCost is the cost of one image or document attachment
	// in historical context. Only the current turn's attachments travel
	// inline; history carries filename + description hints, which are
	// cheap regardless of the underlying file size.
	attachmentHintCost = 50

	// sizeScaleDivisor converts a known attachment byte size into an
	// approximate token cost for referenced attachments.
	sizeScaleDivisor = 4096
)

// EstimateTokens returns the approximate context cost of one message:
// character count over four for text, plus hint costs for attachments.
func EstimateTokens(m types.Message) int {
	cost := len(m.Content) / 4

	for _, att := range m.Attachments {
		cost += attachmentCost(att)
	}
	for _, att := range m.Referenced {
		cost += referencedCost(att)
	}
	for _, att := range m.Downloaded {
		cost += attachmentCost(att)
	}

	return cost
}

// EstimateTotal sums EstimateTokens over a message list.
func EstimateTotal(messages []types.Message) int {
	total := 0
	for _, m := range messages {
		total += EstimateTokens(m)
	}
	return total
}

// attachmentCost prices a primary or downloaded attachment. Voice
// messages cost nothing: they are transcribed out-of-band and their text
// is already part of the message content.
func attachmentCost(att types.Attachment) int {
	if att.Kind == types.AttachmentVoice {
		return 0
	}
	return attachmentHintCost
}

// referencedCost prices an attachment pulled from a replied-to message.
// When the byte size is known the cost scales roughly with it; otherwise
// the fixed hint cost applies.
func referencedCost(att types.Attachment) int {
	if att.Kind == types.AttachmentVoice {
		return 0
	}
	if att.ByteSize > 0 {
		cost := int(att.ByteSize / sizeScaleDivisor)
		if cost < attachmentHintCost {
			cost = attachmentHintCost
		}
		return cost
	}
	return attachmentHintCost
}

// SplitWindow decides whether the active conversation must shed history.
// With min = chunkSize and max = 2*chunkSize: a total cost within max
// means nothing is archived. Otherwise messages are scanned oldest first
// and the split lands at the first index where the running cost would
// exceed min; everything before the split is archived. A single message
// bigger than min still forces at least one message out.
//
// This is a pure function; it performs no I/O. Concatenating toArchive
// and toSend always reproduces the input order exactly.
func SplitWindow(messages []types.Message, chunkSize int) (toSend, toArchive []types.Message, needsArchiving bool) {
	minSize := chunkSize
	maxSize := 2 * chunkSize

	if EstimateTotal(messages) <= maxSize {
		return messages, nil, false
	}

	splitIndex := 0
	running := 0
	for i, m := range messages {
		cost := EstimateTokens(m)
		if running+cost > minSize {
			splitIndex = i
			break
		}
		running += cost
	}

	// A single oversized oldest message would yield index 0; archive it
	// anyway so the window actually shrinks.
	if splitIndex == 0 {
		splitIndex = 1
	}

	return messages[splitIndex:], messages[:splitIndex], true
}
