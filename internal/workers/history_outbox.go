package workers

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/yoovoice/internal/interviewapi"
	"github.com/yoockh/yoovoice/internal/metrics"
	"github.com/yoockh/yoovoice/internal/voice"
)

type HistorySaver interface {
	SaveChatHistory(ctx context.Context, req interviewapi.ChatHistoryRequest) error
}

// HistoryOutbox persists transcripts handed over on implicit session end.
// Send only appends to a Redis stream; a consumer group delivers the entries
// to the interview API. Entries left pending by a consumer that died are
// claimed again once idle for ClaimIdle.
type HistoryOutbox struct {
	Redis      redis.Cmdable
	Saver      HistorySaver
	NumWorkers int

	// Fallback receives the request when the stream cannot be written.
	Fallback voice.Beacon

	Logger *logrus.Logger

	Stream         string
	Group          string
	ConsumerPrefix string
	MaxAttempts    int
	Timeout        time.Duration
	ClaimIdle      time.Duration
}

var _ voice.Beacon = (*HistoryOutbox)(nil)

func (p *HistoryOutbox) defaults() {
	if p.Stream == "" {
		p.Stream = "history:outbox"
	}
	if p.Group == "" {
		p.Group = "history-writers"
	}
	if p.ConsumerPrefix == "" {
		p.ConsumerPrefix = "c"
	}
	if p.NumWorkers <= 0 {
		p.NumWorkers = 2
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.Timeout <= 0 {
		p.Timeout = 30 * time.Second
	}
	if p.ClaimIdle <= 0 {
		p.ClaimIdle = time.Minute
	}
	if p.Logger == nil {
		p.Logger = logrus.New()
	}
}

func (p *HistoryOutbox) Start(ctx context.Context) error {
	if p.Redis == nil || p.Saver == nil {
		return errors.New("HistoryOutbox missing dependency: Redis/Saver must be set")
	}
	p.defaults()

	_ = p.Redis.XGroupCreateMkStream(ctx, p.Stream, p.Group, "0").Err() // ignore BUSYGROUP

	for i := 0; i < p.NumWorkers; i++ {
		consumer := p.ConsumerPrefix + "-" + strconv.Itoa(i+1)
		go p.runConsumer(ctx, consumer)
	}
	return nil
}

// Send enqueues req. It never blocks on the interview API. Start must have
// been called first.
func (p *HistoryOutbox) Send(req interviewapi.ChatHistoryRequest) {
	if err := p.enqueue(context.Background(), req, 0); err != nil {
		p.Logger.WithError(err).WithField("thread_id", req.ThreadID).Warn("history outbox unavailable")
		if p.Fallback != nil {
			p.Fallback.Send(req)
		}
		return
	}
	metrics.BeaconQueued.Inc()
}

func (p *HistoryOutbox) enqueue(ctx context.Context, req interviewapi.ChatHistoryRequest, attempt int) error {
	if p.Redis == nil {
		return errors.New("no redis client")
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.Redis.XAdd(ctx, &redis.XAddArgs{
		Stream: p.Stream,
		Values: map[string]any{
			"thread_id": req.ThreadID,
			"attempt":   strconv.Itoa(attempt),
			"payload":   string(payload),
		},
	}).Err()
}

func (p *HistoryOutbox) runConsumer(ctx context.Context, consumer string) {
	p.reclaim(ctx, consumer)
	lastClaim := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := p.Redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    p.Group,
			Consumer: consumer,
			Streams:  []string{p.Stream, ">"},
			Count:    10,
			Block:    5 * time.Second,
		}).Result()

		if err != nil {
			if err == redis.Nil {
				if time.Since(lastClaim) >= p.ClaimIdle {
					p.reclaim(ctx, consumer)
					lastClaim = time.Now()
				}
				continue
			}
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, stream := range res {
			p.process(ctx, stream.Messages)
		}
	}
}

// reclaim takes over entries another consumer read but never acked.
func (p *HistoryOutbox) reclaim(ctx context.Context, consumer string) int {
	n := 0
	start := "0-0"
	for {
		msgs, next, err := p.Redis.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   p.Stream,
			Group:    p.Group,
			Consumer: consumer,
			MinIdle:  p.ClaimIdle,
			Start:    start,
			Count:    10,
		}).Result()
		if err != nil {
			if err != redis.Nil {
				p.Logger.WithError(err).WithField("consumer", consumer).Warn("history outbox reclaim failed")
			}
			return n
		}
		if len(msgs) > 0 {
			p.Logger.WithFields(logrus.Fields{"consumer": consumer, "entries": len(msgs)}).Info("reclaimed stale history entries")
		}
		p.process(ctx, msgs)
		n += len(msgs)
		if next == "" || next == "0-0" || len(msgs) == 0 {
			return n
		}
		start = next
	}
}

// process handles msgs and acks every entry that is settled.
func (p *HistoryOutbox) process(ctx context.Context, msgs []redis.XMessage) {
	for _, msg := range msgs {
		if !p.handleMsg(ctx, msg) {
			// left pending for a later reclaim
			continue
		}
		if err := p.Redis.XAck(ctx, p.Stream, p.Group, msg.ID).Err(); err != nil {
			p.Logger.WithError(err).WithField("redis_id", msg.ID).Warn("history outbox ack failed")
		}
	}
}

// handleMsg delivers one entry and reports whether it can be acked.
func (p *HistoryOutbox) handleMsg(ctx context.Context, msg redis.XMessage) bool {
	getStr := func(k string) string {
		v, ok := msg.Values[k]
		if !ok || v == nil {
			return ""
		}
		s, _ := v.(string)
		return s
	}

	log := p.Logger.WithFields(logrus.Fields{
		"redis_id":  msg.ID,
		"thread_id": getStr("thread_id"),
	})

	var req interviewapi.ChatHistoryRequest
	if err := json.Unmarshal([]byte(getStr("payload")), &req); err != nil || req.ThreadID == "" {
		log.WithError(err).Warn("dropping malformed outbox entry")
		return true
	}
	attempt, _ := strconv.Atoi(getStr("attempt"))

	if err := p.deliver(ctx, req); err != nil {
		if attempt+1 >= p.MaxAttempts {
			metrics.Errors.WithLabelValues("history_outbox", "gave_up").Inc()
			log.WithError(err).WithField("attempt", attempt+1).Error("history delivery failed, giving up")
			return true
		}
		log.WithError(err).WithField("attempt", attempt+1).Warn("history delivery failed, requeueing")
		if err := p.enqueue(ctx, req, attempt+1); err != nil {
			log.WithError(err).Error("history requeue failed, entry left pending")
			return false
		}
		return true
	}
	log.WithField("turns", len(req.Messages)).Info("history delivered")
	return true
}

func (p *HistoryOutbox) deliver(ctx context.Context, req interviewapi.ChatHistoryRequest) error {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	return p.Saver.SaveChatHistory(ctx, req)
}
