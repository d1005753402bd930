package services

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/yoockh/yoovoice/internal/interviewapi"
	"github.com/yoockh/yoovoice/internal/models"
	pgrepo "github.com/yoockh/yoovoice/internal/repositories/postgres"
	"github.com/yoockh/yoovoice/internal/utils"
)

type ProfileService interface {
	GetMe(ctx context.Context, userID string) (*models.Profile, error)
	// OpeningProfile returns the profile sent with a new thread, or nil when
	// the user has none.
	OpeningProfile(ctx context.Context, userID string) (*interviewapi.UserProfile, error)
}

type profileService struct {
	profiles pgrepo.ProfileRepository
}

func NewProfileService(profiles pgrepo.ProfileRepository) ProfileService {
	return &profileService{profiles: profiles}
}

func (s *profileService) GetMe(ctx context.Context, userID string) (*models.Profile, error) {
	const op = "ProfileService.GetMe"

	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}

	p, err := s.profiles.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "profile not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to get profile", err)
	}
	return p, nil
}

func (s *profileService) OpeningProfile(ctx context.Context, userID string) (*interviewapi.UserProfile, error) {
	p, err := s.GetMe(ctx, userID)
	if err != nil {
		if utils.IsCode(err, utils.CodeNotFound) {
			return nil, nil
		}
		return nil, err
	}

	up := &interviewapi.UserProfile{
		FullName:   p.FullName,
		TargetRole: p.TargetRole,
		Summary:    p.Summary,
		Skills:     []string(p.Skills),
	}
	if len(p.Experience) > 0 && json.Valid(p.Experience) {
		up.Experience = json.RawMessage(p.Experience)
	}
	return up, nil
}
