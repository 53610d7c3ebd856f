package proposal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Service owns every lifecycle transition of a proposal. All writes go
// through the store's compare-and-set so concurrent actors settle on exactly
// one outcome per document version.
type Service struct {
	store      Store
	agreements AgreementStore
	roster     Roster
	limiter    RateLimiter
	recorder   Recorder
	limits     Limits
	idGen      func() string
	now        func() time.Time
}

func NewService(store Store, agreements AgreementStore, roster Roster, limiter RateLimiter, limits Limits) *Service {
	return &Service{
		store:      store,
		agreements: agreements,
		roster:     roster,
		limiter:    limiter,
		limits:     limits,
		idGen:      func() string { return uuid.NewString() },
		now:        time.Now,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGen = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithRecorder(rec Recorder) *Service {
	s.recorder = rec
	return s
}

// transition commits next as the successor of the stored document p. The
// lifecycle map is consulted immediately before the compare-and-set, so a
// write the machine does not allow never reaches the store, whatever
// preconditions ran earlier.
func (s *Service) transition(ctx context.Context, p, next Proposal) error {
	if !ValidTransition(p.Status, next.Status) {
		return fmt.Errorf("proposal: invalid transition %s -> %s", p.Status, next.Status)
	}
	return s.store.CompareAndSet(ctx, p.ID, p.Version, next)
}

// CheckExpiry reports whether the response window has elapsed at now. The
// boundary is inclusive: the proposal is expired the instant now reaches
// ExpiresAt, whatever status is still stored.
func CheckExpiry(p Proposal, now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

func canReproposeAt(history []Proposal, cooldown time.Duration, now time.Time) bool {
	var latest time.Time
	for _, p := range history {
		if p.Status != StatusDeclined || p.RespondedAt == nil {
			continue
		}
		if p.RespondedAt.After(latest) {
			latest = *p.RespondedAt
		}
	}
	if latest.IsZero() {
		return true
	}
	return !now.Before(latest.Add(cooldown))
}

// CanRepropose reports whether the cooldown that follows the latest decline
// for this field has fully elapsed at now. The boundary is inclusive: the
// instant the cooldown ends, filing is allowed again.
func (s *Service) CanRepropose(ctx context.Context, childID string, changeType ChangeType, now time.Time) (bool, error) {
	declined, err := s.store.Query(ctx, childID, changeType, []Status{StatusDeclined})
	if err != nil {
		return false, err
	}
	return canReproposeAt(declined, s.limits.ReproposalCooldown, now), nil
}

type CreateParams struct {
	ChildID           string
	ChangeType        ChangeType
	ProposedValue     ChangeValue
	ProposerID        string
	ChangeDescription string
	// ModifiesProposalID chains this proposal to an earlier declined or
	// modified one.
	ModifiesProposalID string
}

func validateCreate(params CreateParams) error {
	if params.ChildID == "" || params.ProposerID == "" {
		return ErrMissingField
	}
	if tooLong(params.ChildID, MaxIDLen) || tooLong(params.ProposerID, MaxIDLen) ||
		tooLong(params.ModifiesProposalID, MaxIDLen) {
		return ErrFieldTooLong
	}
	if !params.ChangeType.Valid() {
		return ErrInvalidChangeType
	}
	if params.ProposedValue.Kind == "" {
		return ErrMissingField
	}
	if err := params.ProposedValue.Validate(); err != nil {
		return err
	}
	if tooLong(params.ChangeDescription, MaxChangeDescriptionLen) {
		return ErrFieldTooLong
	}
	return nil
}

// Create files a new pending proposal. Gates run in a fixed order so a
// request failing several of them reports the same code every time:
// validation, guardianship, rate limit, cooldown, pending-exists, chain.
func (s *Service) Create(ctx context.Context, params CreateParams) (Proposal, error) {
	if err := validateCreate(params); err != nil {
		return Proposal{}, err
	}
	now := s.now().UTC()

	participants, err := s.roster.Participants(ctx, params.ChildID)
	if err != nil {
		return Proposal{}, infraErr("resolve roster", err)
	}
	if !containsString(participants.Guardians, params.ProposerID) {
		return Proposal{}, ErrNotGuardian
	}

	recent, err := s.limiter.CountRecentProposals(ctx, params.ProposerID, time.Hour)
	if err != nil {
		return Proposal{}, infraErr("count recent proposals", err)
	}
	if recent >= s.limits.MaxProposalsPerHour {
		return Proposal{}, ErrRateLimited
	}

	ok, err := s.CanRepropose(ctx, params.ChildID, params.ChangeType, now)
	if err != nil {
		return Proposal{}, err
	}
	if !ok {
		return Proposal{}, ErrCooldownActive
	}

	pending, err := s.store.Query(ctx, params.ChildID, params.ChangeType, []Status{StatusPending})
	if err != nil {
		return Proposal{}, err
	}
	for _, p := range pending {
		// a pending row past its window no longer blocks, even before a
		// sweep has stamped it expired
		if !CheckExpiry(p, now) {
			return Proposal{}, ErrPendingExists
		}
		expired := p
		expired.Status = StatusExpired
		expired.Version = p.Version + 1
		if err := s.transition(ctx, p, expired); err == nil {
			s.record(ctx, Event{
				ProposalID: p.ID,
				ChildID:    p.ChildID,
				Type:       EventProposalExpired,
				Payload:    map[string]any{"expires_at": p.ExpiresAt},
			})
		}
	}

	var originalID *string
	if params.ModifiesProposalID != "" {
		source, err := s.store.Get(ctx, params.ModifiesProposalID)
		if err != nil {
			return Proposal{}, err
		}
		if source.Status != StatusDeclined && source.Status != StatusModified {
			return Proposal{}, ErrBadChain
		}
		originalID = &params.ModifiesProposalID
	}

	state, err := s.agreements.CurrentValue(ctx, params.ChildID, params.ChangeType)
	if err != nil {
		return Proposal{}, infraErr("snapshot agreement value", err)
	}

	created := Proposal{
		ID:                 s.idGen(),
		ChildID:            params.ChildID,
		AgreementID:        state.AgreementID,
		ProposedBy:         params.ProposerID,
		ChangeType:         params.ChangeType,
		OriginalValue:      state.Value,
		ProposedValue:      params.ProposedValue,
		ChangeDescription:  strings.TrimSpace(params.ChangeDescription),
		Status:             StatusPending,
		CreatedAt:          now,
		ExpiresAt:          now.Add(s.limits.ResponseWindow),
		OriginalProposalID: originalID,
		Version:            1,
	}
	if err := s.store.Create(ctx, created); err != nil {
		return Proposal{}, err
	}

	s.record(ctx, Event{
		ProposalID: created.ID,
		ChildID:    created.ChildID,
		Type:       EventProposalCreated,
		ActorID:    created.ProposedBy,
		Payload: map[string]any{
			"change_type": created.ChangeType,
			"expires_at":  created.ExpiresAt,
		},
	})
	return created, nil
}

type RespondAction string

const (
	ActionApprove RespondAction = "approve"
	ActionDecline RespondAction = "decline"
	ActionModify  RespondAction = "modify"
)

type RespondParams struct {
	ProposalID       string
	ResponderID      string
	Action           RespondAction
	DeclineMessage   string
	ModifiedValue    *ChangeValue
	ModificationNote string
}

// RespondResult carries the updated source proposal and, for modify, the
// counter-proposal that replaced it.
type RespondResult struct {
	Proposal        Proposal
	CounterProposal *Proposal
}

func validateRespond(params RespondParams) error {
	if params.ProposalID == "" || params.ResponderID == "" {
		return ErrMissingField
	}
	if tooLong(params.ProposalID, MaxIDLen) || tooLong(params.ResponderID, MaxIDLen) {
		return ErrFieldTooLong
	}
	switch params.Action {
	case ActionApprove, ActionDecline, ActionModify:
	default:
		return ErrInvalidAction
	}
	if tooLong(params.DeclineMessage, MaxMessageLen) || tooLong(params.ModificationNote, MaxMessageLen) {
		return ErrFieldTooLong
	}
	if params.Action == ActionModify {
		if params.ModifiedValue == nil {
			return ErrModifyRequiresValue
		}
		if err := params.ModifiedValue.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Respond settles a pending proposal with the co-parent's decision. Approve
// opens the signature phase, decline closes the proposal, modify closes it
// and files a counter-proposal in one step.
func (s *Service) Respond(ctx context.Context, params RespondParams) (RespondResult, error) {
	if err := validateRespond(params); err != nil {
		return RespondResult{}, err
	}

	p, err := s.store.Get(ctx, params.ProposalID)
	if err != nil {
		return RespondResult{}, err
	}
	now := s.now().UTC()

	if p.Status != StatusPending {
		return RespondResult{}, ErrNotPending
	}
	if CheckExpiry(p, now) {
		return RespondResult{}, ErrProposalExpired
	}
	participants, err := s.roster.Participants(ctx, p.ChildID)
	if err != nil {
		return RespondResult{}, infraErr("resolve roster", err)
	}
	if !containsString(participants.Guardians, params.ResponderID) {
		return RespondResult{}, ErrNotGuardian
	}
	if p.ProposedBy == params.ResponderID {
		return RespondResult{}, ErrSelfResponse
	}

	responder := params.ResponderID

	switch params.Action {
	case ActionApprove:
		deadline := now.Add(s.limits.SignatureWindow)
		updated := p
		updated.Status = StatusAwaitingSignatures
		updated.RespondedAt = &now
		updated.RespondedBy = &responder
		updated.SignatureDeadline = &deadline
		updated.Signatures = signatureRoster(participants)
		updated.Version = p.Version + 1
		if err := s.transition(ctx, p, updated); err != nil {
			return RespondResult{}, err
		}
		s.record(ctx, Event{
			ProposalID: p.ID,
			ChildID:    p.ChildID,
			Type:       EventProposalApproved,
			ActorID:    responder,
			Payload: map[string]any{
				"signature_deadline": deadline,
				"signers":            len(updated.Signatures),
			},
		})
		return RespondResult{Proposal: updated}, nil

	case ActionDecline:
		updated := p
		updated.Status = StatusDeclined
		updated.RespondedAt = &now
		updated.RespondedBy = &responder
		if msg := strings.TrimSpace(params.DeclineMessage); msg != "" {
			updated.DeclineMessage = &msg
		}
		updated.Version = p.Version + 1
		if err := s.transition(ctx, p, updated); err != nil {
			return RespondResult{}, err
		}
		s.record(ctx, Event{
			ProposalID: p.ID,
			ChildID:    p.ChildID,
			Type:       EventProposalDeclined,
			ActorID:    responder,
			Payload:    declinePayload(updated),
		})
		return RespondResult{Proposal: updated}, nil

	case ActionModify:
		// the counter id is fixed before the compare-and-set so the source
		// can point at it in the same write
		counterID := s.idGen()
		updated := p
		updated.Status = StatusModified
		updated.RespondedAt = &now
		updated.RespondedBy = &responder
		if note := strings.TrimSpace(params.ModificationNote); note != "" {
			updated.ModificationNote = &note
		}
		updated.SupersededByProposalID = &counterID
		updated.Version = p.Version + 1
		if err := s.transition(ctx, p, updated); err != nil {
			return RespondResult{}, err
		}

		sourceID := p.ID
		counter := Proposal{
			ID:                 counterID,
			ChildID:            p.ChildID,
			AgreementID:        p.AgreementID,
			ProposedBy:         responder,
			ChangeType:         p.ChangeType,
			OriginalValue:      p.OriginalValue,
			ProposedValue:      *params.ModifiedValue,
			ChangeDescription:  p.ChangeDescription,
			Status:             StatusPending,
			CreatedAt:          now,
			ExpiresAt:          now.Add(s.limits.ResponseWindow),
			OriginalProposalID: &sourceID,
			Version:            1,
		}
		if err := s.store.Create(ctx, counter); err != nil {
			return RespondResult{}, err
		}

		s.record(ctx, Event{
			ProposalID: p.ID,
			ChildID:    p.ChildID,
			Type:       EventProposalModified,
			ActorID:    responder,
			Payload:    map[string]any{"counter_proposal_id": counterID},
		})
		s.record(ctx, Event{
			ProposalID: counter.ID,
			ChildID:    counter.ChildID,
			Type:       EventProposalCreated,
			ActorID:    responder,
			Payload: map[string]any{
				"change_type":          counter.ChangeType,
				"expires_at":           counter.ExpiresAt,
				"original_proposal_id": sourceID,
			},
		})
		return RespondResult{Proposal: updated, CounterProposal: &counter}, nil
	}

	return RespondResult{}, ErrInvalidAction
}

// Get returns one proposal document.
func (s *Service) Get(ctx context.Context, id string) (Proposal, error) {
	if id == "" {
		return Proposal{}, ErrMissingField
	}
	return s.store.Get(ctx, id)
}

// History returns every proposal ever filed for a child's field, newest
// first. Terminal rows are included.
func (s *Service) History(ctx context.Context, childID string, changeType ChangeType) ([]Proposal, error) {
	if childID == "" {
		return nil, ErrMissingField
	}
	if !changeType.Valid() {
		return nil, ErrInvalidChangeType
	}
	return s.store.Query(ctx, childID, changeType, nil)
}

// SweepExpired stamps the expired status onto pending proposals whose
// response window has elapsed. Reads already treat those rows as expired;
// the sweep only materializes the fact.
func (s *Service) SweepExpired(ctx context.Context, limit int) (int, error) {
	now := s.now().UTC()
	batch, err := s.store.ListByStatus(ctx, []Status{StatusPending}, limit)
	if err != nil {
		return 0, err
	}
	swept := 0
	for _, p := range batch {
		if !CheckExpiry(p, now) {
			continue
		}
		updated := p
		updated.Status = StatusExpired
		updated.Version = p.Version + 1
		err := s.transition(ctx, p, updated)
		if errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return swept, err
		}
		swept++
		s.record(ctx, Event{
			ProposalID: p.ID,
			ChildID:    p.ChildID,
			Type:       EventProposalExpired,
			Payload:    map[string]any{"expires_at": p.ExpiresAt},
		})
	}
	return swept, nil
}

// SweepSignatureDeadlines closes approved proposals whose signature window
// elapsed before every signer acted.
func (s *Service) SweepSignatureDeadlines(ctx context.Context, limit int) (int, error) {
	now := s.now().UTC()
	batch, err := s.store.ListByStatus(ctx, []Status{StatusAwaitingSignatures}, limit)
	if err != nil {
		return 0, err
	}
	swept := 0
	for _, p := range batch {
		if p.SignatureDeadline == nil || now.Before(*p.SignatureDeadline) {
			continue
		}
		updated := p
		updated.Status = StatusSignatureExpired
		updated.Version = p.Version + 1
		err := s.transition(ctx, p, updated)
		if errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return swept, err
		}
		swept++
		s.record(ctx, Event{
			ProposalID: p.ID,
			ChildID:    p.ChildID,
			Type:       EventSignatureWindowExpired,
			Payload:    map[string]any{"signature_deadline": *p.SignatureDeadline},
		})
	}
	return swept, nil
}

// signatureRoster lays out signature records parents first, child last.
// Record order encodes signing order.
func signatureRoster(participants Participants) []Signature {
	records := make([]Signature, 0, len(participants.Guardians)+1)
	for _, guardian := range participants.Guardians {
		records = append(records, Signature{
			SignerID:   guardian,
			SignerType: SignerParent,
			Status:     SignaturePending,
		})
	}
	records = append(records, Signature{
		SignerID:   participants.ChildID,
		SignerType: SignerChild,
		Status:     SignaturePending,
	})
	return records
}

func declinePayload(p Proposal) map[string]any {
	payload := map[string]any{}
	if p.DeclineMessage != nil {
		payload["message"] = *p.DeclineMessage
	}
	return payload
}

func (s *Service) record(ctx context.Context, ev Event) {
	if s.recorder == nil {
		return
	}
	// best-effort; the transition has already committed
	_ = s.recorder.Record(ctx, ev)
}

func tooLong(s string, max int) bool {
	return utf8.RuneCountInString(s) > max
}

func containsString(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}
