package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yoockh/yoovoice/internal/cache"
	"github.com/yoockh/yoovoice/internal/interviewapi"
	"github.com/yoockh/yoovoice/internal/metrics"
	"github.com/yoockh/yoovoice/internal/models"
	"github.com/yoockh/yoovoice/internal/remote"
	mongorepo "github.com/yoockh/yoovoice/internal/repositories/mongo"
	"github.com/yoockh/yoovoice/internal/utils"
	"github.com/yoockh/yoovoice/internal/voice"
)

type StartInput struct {
	UserID     string
	Email      string
	ConfigName string
	ConfigID   string
}

// LiveSession is a controller held in memory together with its client bridge.
type LiveSession struct {
	UserID     string
	Controller *voice.Controller
	Bridge     *remote.Bridge

	hub       *hub
	createdAt time.Time
}

func (ls *LiveSession) Subscribe(s Subscriber)   { ls.hub.subscribe(s) }
func (ls *LiveSession) Unsubscribe(s Subscriber) { ls.hub.unsubscribe(s) }

// Push sends the current snapshot to every subscriber.
func (ls *LiveSession) Push() { ls.hub.Changed() }

type InterviewService interface {
	Start(ctx context.Context, in StartInput) (*LiveSession, error)
	Live(userID, threadID string) (*LiveSession, error)
	Snapshot(ctx context.Context, userID, threadID string) (voice.Snapshot, error)
	Gesture(userID string)
	End(ctx context.Context, userID, threadID string) (voice.EndResult, error)
	Teardown(ctx context.Context, userID, threadID string) (voice.TeardownResult, error)
	Replay(ctx context.Context, userID, threadID string) (*LiveSession, error)
	ActiveCount() int

	// ReapUnclaimed tears down sessions no client attached to within the
	// attach timeout. RunReaper calls it on a ticker until ctx is done.
	ReapUnclaimed(now time.Time) int
	RunReaper(ctx context.Context, every time.Duration)

	// Shutdown tears down every live session.
	Shutdown(ctx context.Context) int
}

type InterviewDeps struct {
	Backend voice.Backend
	Beacon  voice.Beacon
	Decoder voice.DurationDecoder

	// optional archive backends
	Sessions      mongorepo.SessionRepository
	Conversations ConversationService
	Profiles      ProfileService
	Cache         cache.Cache

	Logger        *logrus.Logger
	MaxClipBytes  int
	SnapshotTTL   time.Duration
	AttachTimeout time.Duration
}

type gateRef struct {
	gate *voice.InteractionGate
	refs int
}

type interviewService struct {
	d   InterviewDeps
	log *logrus.Logger

	mu    sync.Mutex
	live  map[string]*LiveSession
	gates map[string]*gateRef
}

func NewInterviewService(d InterviewDeps) InterviewService {
	if d.Logger == nil {
		d.Logger = logrus.StandardLogger()
	}
	if d.SnapshotTTL <= 0 {
		d.SnapshotTTL = 24 * time.Hour
	}
	if d.AttachTimeout <= 0 {
		d.AttachTimeout = 2 * time.Minute
	}
	return &interviewService{
		d:     d,
		log:   d.Logger,
		live:  map[string]*LiveSession{},
		gates: map[string]*gateRef{},
	}
}

func (s *interviewService) Start(ctx context.Context, in StartInput) (*LiveSession, error) {
	const op = "InterviewService.Start"

	var profile *interviewapi.UserProfile
	if s.d.Profiles != nil && in.UserID != "" {
		p, err := s.d.Profiles.OpeningProfile(ctx, in.UserID)
		if err != nil {
			s.log.WithError(err).WithField("user_id", in.UserID).Warn("profile lookup failed, starting without it")
		}
		profile = p
	}

	ls := s.newSession(in.UserID, func(d voice.Deps) *voice.Controller { return voice.New(d) })

	err := ls.Controller.Start(ctx, voice.Params{
		UserID:     in.UserID,
		Email:      in.Email,
		ConfigName: in.ConfigName,
		ConfigID:   in.ConfigID,
		Profile:    profile,
	})
	if err != nil {
		ls.Controller.Teardown()
		s.releaseGate(in.UserID)
		return nil, err
	}

	threadID := ls.Controller.ThreadID()
	s.mu.Lock()
	if _, dup := s.live[threadID]; dup {
		s.mu.Unlock()
		ls.Controller.Teardown()
		s.releaseGate(in.UserID)
		return nil, utils.E(utils.CodeConflict, op, "thread already live", nil)
	}
	s.live[threadID] = ls
	s.mu.Unlock()
	metrics.SessionsActive.Inc()

	if s.d.Sessions != nil {
		sess := ls.Controller.Session()
		rec := &models.InterviewSession{
			ThreadID:   threadID,
			UserID:     sess.UserID,
			Email:      sess.Email,
			ConfigName: sess.ConfigName,
			ConfigID:   sess.ConfigID,
			Status:     models.SessionStatusActive,
			TurnCount:  len(sess.Messages),
			CreatedAt:  sess.StartedAt,
		}
		if err := s.d.Sessions.Create(ctx, rec); err != nil {
			s.log.WithError(err).WithField("thread_id", threadID).Warn("session record not created")
		}
	}
	return ls, nil
}

func (s *interviewService) newSession(userID string, build func(voice.Deps) *voice.Controller) *LiveSession {
	log := s.log.WithField("user_id", userID)
	bridge := remote.NewBridge(s.d.MaxClipBytes)
	h := newHub(log)

	ctrl := build(voice.Deps{
		Backend:    s.d.Backend,
		Microphone: bridge,
		Decoder:    s.d.Decoder,
		Output:     bridge,
		Gate:       s.acquireGate(userID),
		Beacon:     s.d.Beacon,
		Events:     h,
		Logger:     s.log,
	})
	h.ctrl = ctrl

	return &LiveSession{UserID: userID, Controller: ctrl, Bridge: bridge, hub: h, createdAt: time.Now()}
}

func (s *interviewService) Live(userID, threadID string) (*LiveSession, error) {
	const op = "InterviewService.Live"

	if threadID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "thread_id is required", nil)
	}
	s.mu.Lock()
	ls, ok := s.live[threadID]
	s.mu.Unlock()
	if !ok {
		return nil, utils.E(utils.CodeNotFound, op, "session not found", utils.ErrNotFound)
	}
	if ls.UserID != userID {
		return nil, utils.E(utils.CodeForbidden, op, "forbidden", nil)
	}
	return ls, nil
}

// Snapshot returns the live view of a session, or the one cached when it was
// finalized.
func (s *interviewService) Snapshot(ctx context.Context, userID, threadID string) (voice.Snapshot, error) {
	const op = "InterviewService.Snapshot"

	ls, err := s.Live(userID, threadID)
	if err == nil {
		return ls.Controller.Snapshot(), nil
	}
	if !utils.IsCode(err, utils.CodeNotFound) || s.d.Cache == nil {
		return voice.Snapshot{}, err
	}

	var cached cachedSnapshot
	hit, cerr := s.d.Cache.GetJSON(ctx, cache.SnapshotKey(threadID), &cached)
	if cerr != nil {
		return voice.Snapshot{}, utils.E(utils.CodeUnavailable, op, "snapshot cache unavailable", cerr)
	}
	if !hit {
		return voice.Snapshot{}, err
	}
	if cached.UserID != userID {
		return voice.Snapshot{}, utils.E(utils.CodeForbidden, op, "forbidden", nil)
	}
	return cached.Snapshot, nil
}

type cachedSnapshot struct {
	UserID   string         `json:"user_id"`
	Snapshot voice.Snapshot `json:"snapshot"`
}

// Gesture opens the autoplay gate shared by the user's sessions.
func (s *interviewService) Gesture(userID string) {
	s.mu.Lock()
	ref, ok := s.gates[userID]
	s.mu.Unlock()
	if ok {
		ref.gate.Open()
	}
}

func (s *interviewService) End(ctx context.Context, userID, threadID string) (voice.EndResult, error) {
	ls, err := s.Live(userID, threadID)
	if err != nil {
		return voice.EndResult{}, err
	}

	res, err := ls.Controller.End(ctx)
	if err != nil {
		return res, err
	}
	if ls.Controller.Mode() == voice.ModeLive && !res.Already {
		s.archive(ls, models.SessionStatusEnded)
	}
	s.forget(threadID, ls)
	return res, nil
}

func (s *interviewService) Teardown(ctx context.Context, userID, threadID string) (voice.TeardownResult, error) {
	ls, err := s.Live(userID, threadID)
	if err != nil {
		return voice.TeardownResult{}, err
	}

	return s.teardown(threadID, ls), nil
}

func (s *interviewService) teardown(threadID string, ls *LiveSession) voice.TeardownResult {
	res := ls.Controller.Teardown()
	ls.Bridge.Detach()
	if ls.Controller.Mode() == voice.ModeLive && !res.Already {
		s.archive(ls, models.SessionStatusAbandoned)
	}
	s.forget(threadID, ls)
	return res
}

func (s *interviewService) ReapUnclaimed(now time.Time) int {
	cutoff := now.Add(-s.d.AttachTimeout)

	s.mu.Lock()
	stale := map[string]*LiveSession{}
	for id, ls := range s.live {
		if ls.createdAt.Before(cutoff) && !ls.Bridge.Claimed() {
			stale[id] = ls
		}
	}
	s.mu.Unlock()

	n := 0
	for id, ls := range stale {
		if ls.Bridge.Claimed() {
			continue
		}
		s.log.WithFields(logrus.Fields{"thread_id": id, "user_id": ls.UserID}).Warn("no client attached, tearing session down")
		s.teardown(id, ls)
		n++
	}
	return n
}

func (s *interviewService) RunReaper(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = s.d.AttachTimeout / 2
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			s.ReapUnclaimed(now)
		}
	}
}

func (s *interviewService) Shutdown(ctx context.Context) int {
	s.mu.Lock()
	all := make(map[string]*LiveSession, len(s.live))
	for id, ls := range s.live {
		all[id] = ls
	}
	s.mu.Unlock()

	n := 0
	for id, ls := range all {
		if ctx.Err() != nil {
			s.log.WithField("remaining", len(all)-n).Warn("shutdown deadline hit before every session was torn down")
			break
		}
		s.teardown(id, ls)
		n++
	}
	return n
}

// Replay loads an archived transcript into a playback-only session.
func (s *interviewService) Replay(ctx context.Context, userID, threadID string) (*LiveSession, error) {
	const op = "InterviewService.Replay"

	if userID == "" {
		return nil, utils.E(utils.CodeSetupIdentity, op, "sign in required", voice.ErrNoIdentity)
	}
	if s.d.Conversations == nil {
		return nil, utils.E(utils.CodeUnavailable, op, "archive not configured", nil)
	}

	s.mu.Lock()
	existing, ok := s.live[threadID]
	s.mu.Unlock()
	if ok {
		if existing.UserID != userID {
			return nil, utils.E(utils.CodeForbidden, op, "forbidden", nil)
		}
		if existing.Controller.Mode() == voice.ModePlayback {
			return existing, nil
		}
		return nil, utils.E(utils.CodeConflict, op, "interview is still live", nil)
	}

	turns, err := s.d.Conversations.Transcript(ctx, userID, threadID)
	if err != nil {
		return nil, err
	}
	sess := models.Session{ThreadID: threadID, UserID: userID, Messages: turns}
	if s.d.Sessions != nil {
		if rec, err := s.d.Sessions.GetByThreadID(ctx, threadID); err == nil {
			sess.Email = rec.Email
			sess.ConfigName = rec.ConfigName
			sess.ConfigID = rec.ConfigID
			sess.StartedAt = rec.CreatedAt
		} else if !errors.Is(err, utils.ErrNotFound) {
			s.log.WithError(err).WithField("thread_id", threadID).Warn("session record lookup failed")
		}
	}

	ls := s.newSession(userID, func(d voice.Deps) *voice.Controller { return voice.NewReplay(sess, d) })

	s.mu.Lock()
	if other, dup := s.live[threadID]; dup {
		s.mu.Unlock()
		ls.Controller.Teardown()
		s.releaseGate(userID)
		return other, nil
	}
	s.live[threadID] = ls
	s.mu.Unlock()
	metrics.SessionsActive.Inc()
	return ls, nil
}

func (s *interviewService) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// archive writes the local copy of a finished session. Failures are logged;
// the remote chat_history call is the record of truth.
func (s *interviewService) archive(ls *LiveSession, status string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sess := ls.Controller.Session()
	log := s.log.WithFields(logrus.Fields{"thread_id": sess.ThreadID, "status": status})

	if s.d.Sessions != nil {
		if err := s.d.Sessions.End(ctx, sess.ThreadID, status, len(sess.Messages), time.Now().UTC()); err != nil {
			log.WithError(err).Warn("session record not closed")
		}
	}
	if s.d.Conversations != nil && len(sess.Messages) > 0 {
		if err := s.d.Conversations.Archive(ctx, sess); err != nil {
			log.WithError(err).Warn("transcript not archived")
		}
	}
	if s.d.Cache != nil {
		snap := ls.Controller.Snapshot()
		if err := s.d.Cache.SetJSON(ctx, cache.SnapshotKey(sess.ThreadID), cachedSnapshot{UserID: ls.UserID, Snapshot: snap}, s.d.SnapshotTTL); err != nil {
			log.WithError(err).Warn("final snapshot not cached")
		}
	}
	log.WithField("turns", len(sess.Messages)).Info("interview archived")
}

func (s *interviewService) forget(threadID string, ls *LiveSession) {
	s.mu.Lock()
	cur, ok := s.live[threadID]
	if ok && cur == ls {
		delete(s.live, threadID)
	}
	s.mu.Unlock()

	if ok && cur == ls {
		metrics.SessionsActive.Dec()
		s.releaseGate(ls.UserID)
	}
}

func (s *interviewService) acquireGate(userID string) *voice.InteractionGate {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref, ok := s.gates[userID]
	if !ok {
		ref = &gateRef{gate: voice.NewInteractionGate()}
		s.gates[userID] = ref
	}
	ref.refs++
	return ref.gate
}

// releaseGate drops the user's gate once no session holds it, so a later
// visit needs a fresh gesture.
func (s *interviewService) releaseGate(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref, ok := s.gates[userID]
	if !ok {
		return
	}
	ref.refs--
	if ref.refs <= 0 {
		delete(s.gates, userID)
	}
}
