package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageAllAttachments_Order(t *testing.T) {
	m := &Message{
		Role:        RoleUser,
		Content:     "see attached",
		Timestamp:   time.Now(),
		Attachments: []Attachment{{Kind: AttachmentImage, Filename: "a.png"}},
		Referenced:  []Attachment{{Kind: AttachmentDocument, Filename: "b.pdf", ByteSize: 2048}},
		Downloaded:  []Attachment{{Kind: AttachmentDocument, Filename: "c.pdf"}},
	}

	all := m.AllAttachments()
	require.Len(t, all, 3)
	assert.Equal(t, "a.png", all[0].Filename)
	assert.Equal(t, "b.pdf", all[1].Filename)
	assert.Equal(t, "c.pdf", all[2].Filename)
}

func TestMessageJSON_OmitsEmptyAttachmentLists(t *testing.T) {
	m := Message{Role: RoleAssistant, Content: "hello", Timestamp: time.Unix(0, 0).UTC()}
	data, err := json.Marshal(m)
	require.NoError(t, err)

	assert.NotContains(t, string(data), "attachments")
	assert.NotContains(t, string(data), "referenced")
	assert.NotContains(t, string(data), "downloaded")
}

func TestToolCallArguments_RoundTrip(t *testing.T) {
	call := ToolCall{
		ID:        "call_1",
		Name:      "project_read",
		Arguments: json.RawMessage(`{"project_id":"alpha"}`),
	}

	data, err := json.Marshal(call)
	require.NoError(t, err)

	var decoded ToolCall
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, call.Name, decoded.Name)
	assert.JSONEq(t, string(call.Arguments), string(decoded.Arguments))
}
