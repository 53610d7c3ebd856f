package family

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Fledgely/fledgely-sub000/proposal"
)

// Repository abstracts roster storage for the service.
type Repository interface {
	CreateFamily(ctx context.Context, f Family) (Family, error)
	AddMember(ctx context.Context, m Member) (Member, error)
	Members(ctx context.Context, familyID string) ([]Member, error)
	GuardiansOf(ctx context.Context, childUserID string) ([]string, error)
}

// Service exposes family roster operations and serves as the guardianship
// lookup for the proposal workflow.
type Service struct {
	repo  Repository
	idGen func() string
}

// NewService builds a Service using the provided repository.
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

func (s *Service) CreateFamily(ctx context.Context, name string) (Family, error) {
	if name == "" {
		return Family{}, fmt.Errorf("family: missing name")
	}
	return s.repo.CreateFamily(ctx, Family{ID: s.idGen(), Name: name})
}

func (s *Service) Enroll(ctx context.Context, familyID, userID string, role Role) (Member, error) {
	if familyID == "" || userID == "" {
		return Member{}, fmt.Errorf("family: missing ids")
	}
	if role != RoleParent && role != RoleChild {
		return Member{}, fmt.Errorf("family: invalid role %q", role)
	}
	return s.repo.AddMember(ctx, Member{FamilyID: familyID, UserID: userID, Role: role})
}

// Members returns a family's roster.
func (s *Service) Members(ctx context.Context, familyID string) ([]Member, error) {
	if familyID == "" {
		return nil, fmt.Errorf("family: missing family id")
	}
	return s.repo.Members(ctx, familyID)
}

// Participants resolves the signing roster for a child. It implements the
// proposal workflow's Roster boundary.
func (s *Service) Participants(ctx context.Context, childID string) (proposal.Participants, error) {
	guardians, err := s.repo.GuardiansOf(ctx, childID)
	if err != nil {
		return proposal.Participants{}, err
	}
	return proposal.Participants{ChildID: childID, Guardians: guardians}, nil
}
