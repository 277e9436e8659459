package whatsapp

import "time"

// MessageKind classifies a normalized message payload.
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindImage    MessageKind = "image"
	KindVideo    MessageKind = "video"
	KindGif      MessageKind = "gif"
	KindAudio    MessageKind = "audio"
	KindVoice    MessageKind = "voice"
	KindDocument MessageKind = "document"
	KindSticker  MessageKind = "sticker"
	KindContact  MessageKind = "contact"
	KindLocation MessageKind = "location"
	KindUnknown  MessageKind = "unknown"
)

// MediaRef points at a downloadable attachment. Data is fetched lazily via
// Client.DownloadMedia so observers that skip media never pay for it.
type MediaRef struct {
	MimeType string
	FileName string
	Size     uint64
	raw      any
}

// MessageEvent is one inbound message, flattened out of the protobuf soup
// into the handful of fields the bridge cares about.
type MessageEvent struct {
	ID        string
	ChatJID   string
	SenderJID string
	PushName  string
	IsGroup   bool
	IsFromMe  bool
	Timestamp time.Time

	Kind  MessageKind
	Text  string
	Media *MediaRef

	// Location payloads only.
	Latitude  float64
	Longitude float64

	// Set when this message replaces an earlier one's text.
	IsEdit       bool
	EditTargetID string

	QuotedID string
}

type CallEventType string

const (
	CallOffer     CallEventType = "offer"
	CallTerminate CallEventType = "terminate"
)

type CallEvent struct {
	CallID    string
	FromJID   string
	Type      CallEventType
	Timestamp time.Time
}

type AckType string

const (
	AckDelivered AckType = "delivered"
	AckRead      AckType = "read"
	AckPlayed    AckType = "played"
)

// AckEvent is a delivery or read receipt covering one or more messages in a
// chat.
type AckEvent struct {
	ChatJID    string
	SenderJID  string
	MessageIDs []string
	Type       AckType
	Timestamp  time.Time
}

// ReactionEvent carries an emoji reaction; an empty Emoji with Removed set
// withdraws the reactor's previous reaction.
type ReactionEvent struct {
	TargetMsgID string
	ChatJID     string
	ReactorJID  string
	Emoji       string
	Removed     bool
	IsFromMe    bool
}

type RevokeEvent struct {
	TargetMsgID string
	ChatJID     string
	SenderJID   string
}

type GroupChangeEvent struct {
	ChatJID string
	Name    string
}

// EventObserver receives the normalized session events. The bridge layer
// implements it; Client fans whatsmeow events into these calls from the
// socket goroutine, so implementations should return quickly.
type EventObserver interface {
	OnMessage(MessageEvent)
	OnCall(CallEvent)
	OnAck(AckEvent)
	OnReaction(ReactionEvent)
	OnRevoke(RevokeEvent)
	OnGroupChange(GroupChangeEvent)
	OnStateChange(from, to State)
	OnQRCode(code string)
	OnHalted(reason string)
}
