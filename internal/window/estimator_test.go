package window

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/aide/pkg/types"
)

// textMessage builds a message whose estimated cost is exactly tokens.
func textMessage(role types.Role, tokens int) types.Message {
	return types.Message{
		Role:      role,
		Content:   strings.Repeat("x", tokens*4),
		Timestamp: time.Now(),
	}
}

func TestEstimateTokens_TextOnly(t *testing.T) {
	m := types.Message{Role: types.RoleUser, Content: strings.Repeat("a", 400)}
	assert.Equal(t, 100, EstimateTokens(m))
}

func TestEstimateTokens_AttachmentHints(t *testing.T) {
	m := types.Message{
		Role:    types.RoleUser,
		Content: "",
		Attachments: []types.Attachment{
			{Kind: types.AttachmentImage, Filename: "a.png"},
			{Kind: types.AttachmentDocument, Filename: "b.pdf"},
		},
	}
	assert.Equal(t, 100, EstimateTokens(m))
}

func TestEstimateTokens_VoiceIsFree(t *testing.T) {
	m := types.Message{
		Role:        types.RoleUser,
		Content:     "transcribed text here",
		Attachments: []types.Attachment{{Kind: types.AttachmentVoice, Filename: "v.ogg"}},
	}
	assert.Equal(t, len(m.Content)/4, EstimateTokens(m))
}

func TestEstimateTokens_ReferencedScalesWithSize(t *testing.T) {
	small := types.Message{
		Referenced: []types.Attachment{{Kind: types.AttachmentDocument, Filename: "s.pdf", ByteSize: 1024}},
	}
	// Below the floor: fixed hint cost applies.
	assert.Equal(t, 50, EstimateTokens(small))

	big := types.Message{
		Referenced: []types.Attachment{{Kind: types.AttachmentDocument, Filename: "b.pdf", ByteSize: 4096 * 200}},
	}
	assert.Equal(t, 200, EstimateTokens(big))

	unknown := types.Message{
		Referenced: []types.Attachment{{Kind: types.AttachmentImage, Filename: "u.png"}},
	}
	assert.Equal(t, 50, EstimateTokens(unknown))
}

func TestSplitWindow_UnderMaxSendsEverything(t *testing.T) {
	messages := []types.Message{
		textMessage(types.RoleUser, 4000),
		textMessage(types.RoleAssistant, 4000),
	}

	toSend, toArchive, needsArchiving := SplitWindow(messages, 10000)
	assert.False(t, needsArchiving)
	assert.Empty(t, toArchive)
	assert.Equal(t, messages, toSend)
}

func TestSplitWindow_SixMessagesOfFourThousand(t *testing.T) {
	// chunkSize=10000 (min=10000, max=20000), six messages of 4000
	// tokens each: total 24000 > max, split index 2.
	var messages []types.Message
	for i := 0; i < 6; i++ {
		role := types.RoleUser
		if i%2 == 1 {
			role = types.RoleAssistant
		}
		messages = append(messages, textMessage(role, 4000))
	}

	toSend, toArchive, needsArchiving := SplitWindow(messages, 10000)
	require.True(t, needsArchiving)
	assert.Len(t, toArchive, 2)
	assert.Len(t, toSend, 4)
	assert.Equal(t, 8000, EstimateTotal(toArchive))
	assert.Equal(t, 16000, EstimateTotal(toSend))

	// Concatenating toArchive ++ toSend reproduces the original order.
	recombined := append(append([]types.Message{}, toArchive...), toSend...)
	assert.Equal(t, messages, recombined)
}

func TestSplitWindow_SingleHugeMessageForcesArchive(t *testing.T) {
	messages := []types.Message{
		textMessage(types.RoleUser, 25000),
		textMessage(types.RoleAssistant, 100),
	}

	toSend, toArchive, needsArchiving := SplitWindow(messages, 10000)
	require.True(t, needsArchiving)
	require.Len(t, toArchive, 1)
	assert.Equal(t, messages[0], toArchive[0])
	assert.Len(t, toSend, 1)
}

func TestSplitWindow_ExactlyMaxIsNotArchived(t *testing.T) {
	messages := []types.Message{
		textMessage(types.RoleUser, 10000),
		textMessage(types.RoleAssistant, 10000),
	}

	_, toArchive, needsArchiving := SplitWindow(messages, 10000)
	assert.False(t, needsArchiving)
	assert.Empty(t, toArchive)
}
