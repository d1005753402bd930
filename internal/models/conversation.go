package models

import (
	"time"

	"gorm.io/datatypes"
)

type ConversationLog struct {
	ID       string  `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	UserID   string  `gorm:"column:user_id;type:uuid;index" json:"user_id"`
	ThreadID string  `gorm:"column:thread_id;type:text;uniqueIndex:idx_thread_seq,priority:1" json:"thread_id"`
	Seq      int     `gorm:"column:seq;type:integer;uniqueIndex:idx_thread_seq,priority:2" json:"seq"`
	Sender   string  `gorm:"column:sender;type:text" json:"sender"` // "user" | "ai"
	Content  string  `gorm:"column:content;type:text" json:"content"`
	AudioURL string  `gorm:"column:audio_url;type:text" json:"audio_url"`
	Duration float64 `gorm:"column:duration;type:double precision" json:"duration"`

	Timestamp time.Time      `gorm:"column:timestamp;type:timestamptz;index" json:"timestamp"`
	Metadata  datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata"`
}

func (ConversationLog) TableName() string { return "conversation_logs" }

// Turn converts a stored row back into a ready Turn.
func (l ConversationLog) Turn() Turn {
	return Turn{
		ID:        l.ID,
		Text:      l.Content,
		Sender:    Sender(l.Sender),
		AudioURL:  l.AudioURL,
		Duration:  l.Duration,
		IsReady:   true,
		CreatedAt: l.Timestamp,
	}
}
