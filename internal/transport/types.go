package transport

import "context"

// MediaKind is the classified kind of a queued media item.
type MediaKind string

const (
	MediaPhoto MediaKind = "photo"
	MediaVideo MediaKind = "video"
)

// MediaSource is the raw kind of an inbound media message, before
// classification. Documents still need MIME inspection.
type MediaSource string

const (
	SourcePhoto     MediaSource = "photo"
	SourceVideo     MediaSource = "video"
	SourceAnimation MediaSource = "animation"
	SourceDocument  MediaSource = "document"
)

// Media is an immutable classified media item: what gets queued and sent.
// FileID is an opaque platform reference, never dereferenced by the core.
type Media struct {
	Kind    MediaKind
	FileID  string
	Caption string
}

// InboundMedia is a raw media payload extracted from an inbound message.
// The classifier in internal/bot decides whether it becomes a Media.
type InboundMedia struct {
	Source  MediaSource
	FileID  string
	MIME    string // documents only
	Caption string
}

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
	Media        *InboundMedia // nil for plain text/commands
}

type ChatTarget struct {
	ChatID int64
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Sender is the outbound surface the dispatcher needs. Every call is
// fallible and may block on network I/O.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) error

	// SendMedia sends a single media message (kind-specific call), with the
	// item's caption if present.
	SendMedia(ctx context.Context, to ChatTarget, m Media) error

	// SendAlbum sends one grouped-media message. The caller guarantees
	// 2..10 items and puts the batch caption on the first item.
	SendAlbum(ctx context.Context, to ChatTarget, items []Media) error
}

// Adapter is a platform transport: it feeds inbound updates into a channel
// and implements the outbound Sender surface.
type Adapter interface {
	Sender

	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}
