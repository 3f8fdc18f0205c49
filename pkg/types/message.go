// Package types defines the shared data model for the aide conversational
// core: conversation messages, archive chunks, and tool-loop records.
package types

import "time"

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// AttachmentKind classifies a file attached to a message.
type AttachmentKind string

const (
	AttachmentImage    AttachmentKind = "image"
	AttachmentDocument AttachmentKind = "document"
	AttachmentVoice    AttachmentKind = "voice"
)

// Attachment is a file reference carried by a message. Attachments are
// always referenced by stable filename; the bytes themselves live outside
// the persisted conversation record.
type Attachment struct {
	Kind        AttachmentKind `json:"kind"`
	Filename    string         `json:"filename"`
	ByteSize    int64          `json:"byte_size,omitempty"`
	Description string         `json:"description,omitempty"`
}

// Message is one entry in the active conversation. Messages are appended
// to the in-memory list and persisted wholesale on every mutation; they
// are never mutated after append except for removal when archived.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	// Attachments are the files sent directly with this message.
	Attachments []Attachment `json:"attachments,omitempty"`

	// Referenced are attachments pulled in from a message this one
	// replies to.
	Referenced []Attachment `json:"referenced,omitempty"`

	// Downloaded are attachments produced by tools during the turn that
	// created this message (for example email attachments).
	Downloaded []Attachment `json:"downloaded,omitempty"`

	// AccessedProjects lists the project ids touched by tool calls while
	// this message was being produced.
	AccessedProjects []string `json:"accessed_projects,omitempty"`
}

// AllAttachments returns the message's primary, referenced and downloaded
// attachments as one slice, in that order.
func (m *Message) AllAttachments() []Attachment {
	out := make([]Attachment, 0, len(m.Attachments)+len(m.Referenced)+len(m.Downloaded))
	out = append(out, m.Attachments...)
	out = append(out, m.Referenced...)
	out = append(out, m.Downloaded...)
	return out
}
