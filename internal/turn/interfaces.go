package turn

import "context"

// ChatTransport is the outbound side of the paired chat. The polling
// side lives outside the core and feeds triggers into Submit.
type ChatTransport interface {
	// SendText delivers a text message to the user.
	SendText(ctx context.Context, text string) error

	// SendPhoto delivers a generated image by filename.
	SendPhoto(ctx context.Context, filename string) error

	// SendDocument delivers a generated document by filename.
	SendDocument(ctx context.Context, filename string) error
}

// ContextProvider supplies the ambient briefings gathered at turn start.
// Failures degrade the briefing to empty, they never block the turn.
type ContextProvider interface {
	CalendarBrief(ctx context.Context) (string, error)
	MailBrief(ctx context.Context) (string, error)
}

// Describer generates a short description for an attachment file, used
// post-hoc so future turns can refer to old attachments by hint.
type Describer interface {
	Describe(ctx context.Context, filename string) (string, error)
}
