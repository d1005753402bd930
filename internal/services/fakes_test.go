package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/yoockh/yoovoice/internal/interviewapi"
	"github.com/yoockh/yoovoice/internal/logger"
	"github.com/yoockh/yoovoice/internal/models"
	"github.com/yoockh/yoovoice/internal/utils"
)

type stubBackend struct {
	mu      sync.Mutex
	threads int
	saved   []interviewapi.ChatHistoryRequest
}

func (b *stubBackend) NewChat(_ context.Context, req interviewapi.NewChatRequest) (*interviewapi.NewChatResponse, error) {
	b.mu.Lock()
	b.threads++
	n := b.threads
	b.mu.Unlock()
	return &interviewapi.NewChatResponse{ThreadID: fmt.Sprintf("thread-%d", n), Response: "Welcome, " + req.Name}, nil
}

func (b *stubBackend) SpeechToText(context.Context, string, []byte) (*interviewapi.Transcription, error) {
	return &interviewapi.Transcription{Transcript: "answer"}, nil
}

func (b *stubBackend) Chat(context.Context, interviewapi.ChatRequest) (*interviewapi.ChatResponse, error) {
	return &interviewapi.ChatResponse{Response: "Next question?"}, nil
}

func (b *stubBackend) TextToSpeech(context.Context, interviewapi.SpeechRequest) (*interviewapi.Speech, error) {
	return &interviewapi.Speech{AudioURL: "https://audio/x.mp3", Duration: 1}, nil
}

func (b *stubBackend) SaveChatHistory(_ context.Context, req interviewapi.ChatHistoryRequest) error {
	b.mu.Lock()
	b.saved = append(b.saved, req)
	b.mu.Unlock()
	return nil
}

type stubBeacon struct {
	mu   sync.Mutex
	sent []interviewapi.ChatHistoryRequest
}

func (b *stubBeacon) Send(req interviewapi.ChatHistoryRequest) {
	b.mu.Lock()
	b.sent = append(b.sent, req)
	b.mu.Unlock()
}

func (b *stubBeacon) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sent)
}

type memSessions struct {
	mu   sync.Mutex
	recs map[string]*models.InterviewSession
}

func newMemSessions() *memSessions {
	return &memSessions{recs: map[string]*models.InterviewSession{}}
}

func (r *memSessions) Create(_ context.Context, s *models.InterviewSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.recs[s.ThreadID] = &cp
	return nil
}

func (r *memSessions) GetByThreadID(_ context.Context, threadID string) (*models.InterviewSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.recs[threadID]
	if !ok {
		return nil, utils.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *memSessions) End(_ context.Context, threadID, status string, turnCount int, endedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.recs[threadID]
	if !ok || s.Status != models.SessionStatusActive {
		return nil
	}
	s.Status = status
	s.TurnCount = turnCount
	s.EndedAt = &endedAt
	return nil
}

func (r *memSessions) ListActive(context.Context, int64) ([]models.InterviewSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.InterviewSession
	for _, s := range r.recs {
		if s.Status == models.SessionStatusActive {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (r *memSessions) status(threadID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.recs[threadID]; ok {
		return s.Status
	}
	return ""
}

type memConversations struct {
	mu   sync.Mutex
	rows []models.ConversationLog
}

func (r *memConversations) InsertBatch(_ context.Context, rows []models.ConversationLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range rows {
		dup := false
		for _, have := range r.rows {
			if have.ThreadID == row.ThreadID && have.Seq == row.Seq {
				dup = true
				break
			}
		}
		if !dup {
			r.rows = append(r.rows, row)
		}
	}
	return nil
}

func (r *memConversations) ListByThread(_ context.Context, userID, threadID string) ([]models.ConversationLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ConversationLog
	for _, row := range r.rows {
		if row.UserID == userID && row.ThreadID == threadID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *memConversations) CountByThread(_ context.Context, threadID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, row := range r.rows {
		if row.ThreadID == threadID {
			n++
		}
	}
	return n, nil
}

type memCache struct {
	mu   sync.Mutex
	vals map[string][]byte
}

func newMemCache() *memCache { return &memCache{vals: map[string][]byte{}} }

func (c *memCache) GetJSON(_ context.Context, key string, dst any) (bool, error) {
	c.mu.Lock()
	b, ok := c.vals[key]
	c.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dst)
}

func (c *memCache) SetJSON(_ context.Context, key string, val any, _ time.Duration) error {
	b, err := json.Marshal(val)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.vals[key] = b
	c.mu.Unlock()
	return nil
}

func (c *memCache) Del(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.vals, k)
	}
	return nil
}

type recSubscriber struct {
	mu   sync.Mutex
	msgs []any
}

func (s *recSubscriber) SendJSON(v any) error {
	s.mu.Lock()
	s.msgs = append(s.msgs, v)
	s.mu.Unlock()
	return nil
}

func (s *recSubscriber) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

type fixture struct {
	svc      InterviewService
	backend  *stubBackend
	beacon   *stubBeacon
	sessions *memSessions
	convos   *memConversations
	cache    *memCache
}

func newFixture() *fixture {
	f := &fixture{
		backend:  &stubBackend{},
		beacon:   &stubBeacon{},
		sessions: newMemSessions(),
		convos:   &memConversations{},
		cache:    newMemCache(),
	}
	f.svc = NewInterviewService(InterviewDeps{
		Backend:       f.backend,
		Beacon:        f.beacon,
		Sessions:      f.sessions,
		Conversations: NewConversationService(f.convos),
		Cache:         f.cache,
		Logger:        logger.Discard(),
	})
	return f
}

var startInput = StartInput{
	UserID:     "8f7c3c1e-2c55-4a53-9a4b-7b8c1c1f0a11",
	Email:      "candidate@example.com",
	ConfigName: "System Design",
	ConfigID:   "cfg-7",
}
