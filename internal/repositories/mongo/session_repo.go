package mongo

import (
	"context"
	"errors"
	"time"

	"github.com/yoockh/yoovoice/internal/models"
	"github.com/yoockh/yoovoice/internal/utils"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const InterviewSessionsCollection = "interview_sessions"

type SessionRepository interface {
	Create(ctx context.Context, s *models.InterviewSession) error
	GetByThreadID(ctx context.Context, threadID string) (*models.InterviewSession, error)
	End(ctx context.Context, threadID, status string, turnCount int, endedAt time.Time) error
	ListActive(ctx context.Context, limit int64) ([]models.InterviewSession, error)
}

type sessionRepo struct {
	col *mongo.Collection
}

func NewSessionRepo(db *mongo.Database) SessionRepository {
	return &sessionRepo{col: db.Collection(InterviewSessionsCollection)}
}

func (r *sessionRepo) Create(ctx context.Context, s *models.InterviewSession) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	if s.Status == "" {
		s.Status = models.SessionStatusActive
	}
	_, err := r.col.InsertOne(ctx, s)
	return err
}

func (r *sessionRepo) GetByThreadID(ctx context.Context, threadID string) (*models.InterviewSession, error) {
	var s models.InterviewSession
	err := r.col.FindOne(ctx, bson.M{"thread_id": threadID}).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.ErrNotFound
	}
	return &s, err
}

// End closes an active record. Records already ended are left untouched.
func (r *sessionRepo) End(ctx context.Context, threadID, status string, turnCount int, endedAt time.Time) error {
	s, err := r.GetByThreadID(ctx, threadID)
	if err != nil {
		return err
	}
	if s.Status != models.SessionStatusActive {
		return nil
	}

	_, err = r.col.UpdateOne(ctx,
		bson.M{"thread_id": threadID, "status": models.SessionStatusActive},
		bson.M{"$set": bson.M{
			"status":           status,
			"turn_count":       turnCount,
			"ended_at":         endedAt.UTC(),
			"duration_seconds": int64(endedAt.Sub(s.CreatedAt).Seconds()),
		}},
	)
	return err
}

func (r *sessionRepo) ListActive(ctx context.Context, limit int64) ([]models.InterviewSession, error) {
	if limit <= 0 {
		limit = 50
	}
	cur, err := r.col.Find(ctx,
		bson.M{"status": models.SessionStatusActive},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.InterviewSession
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
