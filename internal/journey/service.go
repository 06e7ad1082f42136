package journey

import (
	"context"

	"drip/internal/logger"
)

type Service interface {
	Create(ctx context.Context, accountID string, req CreateJourneyRequest) (*Journey, error)
	Get(ctx context.Context, accountID, id string) (*Journey, error)
	List(ctx context.Context, accountID string) ([]Journey, error)
	Update(ctx context.Context, accountID, id string, req UpdateJourneyRequest) (*Journey, error)
}

type service struct {
	repo   Repository
	logger logger.Logger
}

func NewService(repo Repository, log logger.Logger) Service {
	return &service{repo: repo, logger: log}
}

func (s *service) Create(ctx context.Context, accountID string, req CreateJourneyRequest) (*Journey, error) {
	if err := ValidateStages(req.Stages); err != nil {
		return nil, err
	}

	j := &Journey{
		AccountID:      accountID,
		Name:           req.Name,
		Goal:           req.Goal,
		Audience:       req.Audience,
		Stages:         req.Stages,
		DefaultReplyTo: req.DefaultReplyTo,
	}

	if err := s.repo.Create(ctx, j); err != nil {
		return nil, err
	}

	s.logger.InfowCtx(ctx, "Journey created",
		"journey_id", j.ID,
		"stages", len(j.Stages),
	)
	return j, nil
}

func (s *service) Get(ctx context.Context, accountID, id string) (*Journey, error) {
	return s.repo.GetByID(ctx, accountID, id)
}

func (s *service) List(ctx context.Context, accountID string) ([]Journey, error) {
	return s.repo.List(ctx, accountID)
}

func (s *service) Update(ctx context.Context, accountID, id string, req UpdateJourneyRequest) (*Journey, error) {
	j, err := s.repo.GetByID(ctx, accountID, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		j.Name = *req.Name
	}
	if req.Stages != nil {
		if err := ValidateStages(req.Stages); err != nil {
			return nil, err
		}
		j.Stages = req.Stages
	}
	if req.IsActive != nil {
		j.IsActive = *req.IsActive
	}
	if req.DefaultReplyTo != nil {
		j.DefaultReplyTo = *req.DefaultReplyTo
	}

	if err := s.repo.Update(ctx, j); err != nil {
		return nil, err
	}

	s.logger.InfowCtx(ctx, "Journey updated",
		"journey_id", j.ID,
		"version", j.Version,
	)
	return j, nil
}
