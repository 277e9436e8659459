package database

import "time"

// Contact is one remote WhatsApp identity, individual or group. The
// Telegram forum topic assigned to it lives in ThreadID; zero means no
// topic has been created yet.
type Contact struct {
	Identity     string `gorm:"primaryKey"`
	Phone        string
	PlatformName string
	SavedName    string
	Alias        string
	IsGroup      bool
	GroupName    string
	ThreadID     int64
	IsMuted      bool
	IsArchived   bool
	LastActiveAt time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ContactHints carries the optional fields of an upsert. Empty fields
// keep whatever value the stored row already has.
type ContactHints struct {
	Phone        string
	PlatformName string
	SavedName    string
	GroupName    string
	IsGroup      bool
}

const (
	DirectionWAToTelegram = "wa_to_tg"
	DirectionTelegramToWA = "tg_to_wa"
)

// MessageMap correlates one bridged message across both networks.
type MessageMap struct {
	PrimaryMsgID    string `gorm:"primaryKey"`
	SecondaryMsgID  int64
	SecondaryChatID int64
	ThreadID        int64
	ContactID       string
	SenderJID       string `gorm:"column:sender_jid"`
	Direction       string
	MessageKind     string
	Content         string
	CreatedAt       time.Time
}

func (MessageMap) TableName() string { return "message_map" }

type ReactionMap struct {
	ID              uint `gorm:"primaryKey"`
	PrimaryMsgID    string
	SecondaryMsgID  int64
	SecondaryChatID int64
	Emoji           string
	ReactorIdentity string
	CreatedAt       time.Time
}

func (ReactionMap) TableName() string { return "reaction_map" }

const (
	ScheduleStatusPending   = "pending"
	ScheduleStatusSent      = "sent"
	ScheduleStatusFailed    = "failed"
	ScheduleStatusCancelled = "cancelled"
)

type ScheduledMessage struct {
	ID             uint `gorm:"primaryKey"`
	TargetIdentity string
	TargetDisplay  string
	Body           string
	DueAt          time.Time
	SentAt         *time.Time
	Status         string
	CreatedAt      time.Time
}

type CallRecord struct {
	ID             uint `gorm:"primaryKey"`
	Identity       string
	ContactID      string
	CallType       string
	Direction      string
	Duration       int
	SecondaryMsgID int64
	Timestamp      time.Time
}

// AppState holds small durable singletons like the cached system topic ids.
type AppState struct {
	Key       string `gorm:"primaryKey"`
	Value     string
	UpdatedAt time.Time
}

func (AppState) TableName() string { return "app_state" }

// Migration is the applied-migrations ledger.
type Migration struct {
	Version   int `gorm:"uniqueIndex"`
	Name      string
	AppliedAt time.Time
}

func (Migration) TableName() string { return "migrations" }
