package services

import (
	"context"
	"encoding/json"

	"github.com/yoockh/yoovoice/internal/models"
	pgrepo "github.com/yoockh/yoovoice/internal/repositories/postgres"
	"github.com/yoockh/yoovoice/internal/utils"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ConversationService keeps the local archive of finished transcripts.
type ConversationService interface {
	Archive(ctx context.Context, s models.Session) error
	Transcript(ctx context.Context, userID, threadID string) ([]models.Turn, error)
}

type conversationService struct {
	convos pgrepo.ConversationRepo
}

func NewConversationService(convos pgrepo.ConversationRepo) ConversationService {
	return &conversationService{convos: convos}
}

type turnMetadata struct {
	ConfigName string `json:"config_name"`
	ConfigID   string `json:"config_id"`
	TextOnly   bool   `json:"text_only,omitempty"`
	Pending    bool   `json:"pending,omitempty"` // archived before synthesis finished
}

func (s *conversationService) Archive(ctx context.Context, sess models.Session) error {
	const op = "ConversationService.Archive"

	if sess.UserID == "" || sess.ThreadID == "" {
		return utils.E(utils.CodeInvalidArgument, op, "user_id and thread_id are required", nil)
	}

	rows := make([]models.ConversationLog, 0, len(sess.Messages))
	for i, t := range sess.Messages {
		content := t.Text
		if !t.IsReady && t.RealText != "" {
			content = t.RealText
		}
		md, err := json.Marshal(turnMetadata{
			ConfigName: sess.ConfigName,
			ConfigID:   sess.ConfigID,
			TextOnly:   i == 0 && sess.TextOnly,
			Pending:    !t.IsReady,
		})
		if err != nil {
			return utils.E(utils.CodeInternal, op, "failed to encode metadata", err)
		}

		id := t.ID
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		rows = append(rows, models.ConversationLog{
			ID:        id,
			UserID:    sess.UserID,
			ThreadID:  sess.ThreadID,
			Seq:       i,
			Sender:    string(t.Sender),
			Content:   content,
			AudioURL:  t.AudioURL,
			Duration:  t.Duration,
			Timestamp: t.CreatedAt.UTC(),
			Metadata:  datatypes.JSON(md),
		})
	}

	if err := s.convos.InsertBatch(ctx, rows); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to archive transcript", err)
	}
	return nil
}

func (s *conversationService) Transcript(ctx context.Context, userID, threadID string) ([]models.Turn, error) {
	const op = "ConversationService.Transcript"

	if userID == "" || threadID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id and thread_id are required", nil)
	}

	rows, err := s.convos.ListByThread(ctx, userID, threadID)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list conversation", err)
	}
	if len(rows) == 0 {
		return nil, utils.E(utils.CodeNotFound, op, "interview not found", utils.ErrNotFound)
	}

	turns := make([]models.Turn, 0, len(rows))
	for _, r := range rows {
		turns = append(turns, r.Turn())
	}
	return turns, nil
}
