package agreement

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Fledgely/fledgely-sub000/proposal"
)

// Repository defines the data access the service needs. *PGRepository is the
// production implementation and also satisfies the workflow's agreement
// boundary.
type Repository interface {
	Create(ctx context.Context, ag Agreement) (Agreement, error)
	Get(ctx context.Context, id string) (Agreement, error)
	GetByChild(ctx context.Context, childID string) (Agreement, error)
	CurrentValue(ctx context.Context, childID string, changeType proposal.ChangeType) (proposal.CurrentState, error)
	Apply(ctx context.Context, agreementID, proposalID string, changeType proposal.ChangeType, value proposal.ChangeValue) (int64, error)
}

type Service struct {
	repo  Repository
	idGen func() string
}

func NewService(repo Repository) *Service {
	return &Service{
		repo:  repo,
		idGen: func() string { return uuid.NewString() },
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGen = gen
	return s
}

// CreateForChild bootstraps an empty agreement at version 1. Every child has
// at most one; a second create fails with ErrDuplicateChild.
func (s *Service) CreateForChild(ctx context.Context, childID string) (Agreement, error) {
	if childID == "" {
		return Agreement{}, fmt.Errorf("agreement: missing child id")
	}
	return s.repo.Create(ctx, Agreement{
		ID:      s.idGen(),
		ChildID: childID,
		Version: 1,
	})
}

func (s *Service) Get(ctx context.Context, id string) (Agreement, error) {
	if id == "" {
		return Agreement{}, fmt.Errorf("agreement: missing agreement id")
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) GetByChild(ctx context.Context, childID string) (Agreement, error) {
	if childID == "" {
		return Agreement{}, fmt.Errorf("agreement: missing child id")
	}
	return s.repo.GetByChild(ctx, childID)
}
