package postgres

import (
	"context"

	"github.com/yoockh/yoovoice/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ConversationRepo interface {
	InsertBatch(ctx context.Context, rows []models.ConversationLog) error
	ListByThread(ctx context.Context, userID, threadID string) ([]models.ConversationLog, error)
	CountByThread(ctx context.Context, threadID string) (int64, error)
}

type conversationRepo struct {
	db *gorm.DB
}

func NewConversationRepo(db *gorm.DB) ConversationRepo {
	return &conversationRepo{db: db}
}

// InsertBatch writes a whole transcript; rows already archived for the same
// (thread_id, seq) are skipped.
func (r *conversationRepo) InsertBatch(ctx context.Context, rows []models.ConversationLog) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(rows, 100).Error
}

func (r *conversationRepo) ListByThread(ctx context.Context, userID, threadID string) ([]models.ConversationLog, error) {
	var rows []models.ConversationLog
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND thread_id = ?", userID, threadID).
		Order("seq ASC").
		Find(&rows).Error
	return rows, err
}

func (r *conversationRepo) CountByThread(ctx context.Context, threadID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.ConversationLog{}).
		Where("thread_id = ?", threadID).
		Count(&n).Error
	return n, err
}
