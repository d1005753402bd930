package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

const (
	SessionStatusActive    = "active"
	SessionStatusEnded     = "ended"     // explicit End Interview
	SessionStatusAbandoned = "abandoned" // torn down without explicit end
)

// Turn is one utterance in a live or replayed interview.
type Turn struct {
	ID     string `json:"id"`
	Text   string `json:"text"`
	Sender Sender `json:"sender"`

	// RealText holds the reply while synthesis is pending; never sent to clients.
	RealText string `json:"-"`

	AudioURL string  `json:"audio_url,omitempty"`
	Duration float64 `json:"duration,omitempty"` // seconds
	IsReady  bool    `json:"is_ready"`

	CreatedAt time.Time `json:"created_at"`
}

// Session is the in-memory state of one interview conversation.
type Session struct {
	ThreadID   string `json:"thread_id"`
	UserID     string `json:"user_id"`
	Email      string `json:"email"`
	ConfigName string `json:"config_name"`
	ConfigID   string `json:"config_id"`

	Messages []Turn `json:"messages"`
	TextOnly bool   `json:"text_only"` // opening synthesis failed

	StartedAt time.Time `json:"started_at"`
}

// InterviewSession is the archived record of a session (mongo).
type InterviewSession struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ThreadID   string             `bson:"thread_id" json:"thread_id"`
	UserID     string             `bson:"user_id" json:"user_id"`
	Email      string             `bson:"email" json:"email"`
	ConfigName string             `bson:"config_name" json:"config_name"`
	ConfigID   string             `bson:"config_id" json:"config_id"`

	Status    string `bson:"status" json:"status"` // active|ended|abandoned
	TurnCount int    `bson:"turn_count" json:"turn_count"`

	CreatedAt time.Time  `bson:"created_at" json:"created_at"`
	EndedAt   *time.Time `bson:"ended_at,omitempty" json:"ended_at,omitempty"`

	DurationSeconds int64 `bson:"duration_seconds" json:"duration_seconds"`
}
