package proposal

import (
	"context"
	"errors"
	"time"
)

// AllSignaturesCollected reports whether every roster entry has signed. A
// proposal without a roster never counts as fully signed.
func AllSignaturesCollected(p Proposal) bool {
	if len(p.Signatures) == 0 {
		return false
	}
	for _, sig := range p.Signatures {
		if sig.Status != SignatureSigned {
			return false
		}
	}
	return true
}

// CanSign checks every signing precondition without mutating anything.
// Parents sign in any order; the child only after all parents have signed.
// The deadline boundary is inclusive: at the deadline instant signing is
// already rejected.
func CanSign(p Proposal, signerID string, signerType SignerType, now time.Time) error {
	if p.Status != StatusAwaitingSignatures {
		return ErrNotAwaitingSignatures
	}
	if p.SignatureDeadline == nil {
		return ErrNoSignatureDeadline
	}
	if !now.Before(*p.SignatureDeadline) {
		return ErrDeadlinePassed
	}
	record := p.SignatureFor(signerID)
	if record == nil || record.SignerType != signerType {
		return ErrSignerNotInList
	}
	if record.Status == SignatureSigned {
		return ErrAlreadySigned
	}
	if signerType == SignerChild {
		for _, sig := range p.Signatures {
			if sig.SignerType == SignerParent && sig.Status != SignatureSigned {
				return ErrParentsMustSignFirst
			}
		}
	}
	return nil
}

// Sign records one signature. The final signature also applies the change to
// the agreement, retires the previously active proposal for the same field
// and activates this one, so the caller observes activation in the same
// call. Interrupted final signatures converge on retry because the agreement
// apply is idempotent per proposal.
func (s *Service) Sign(ctx context.Context, proposalID, signerID string) (Proposal, error) {
	if proposalID == "" || signerID == "" {
		return Proposal{}, ErrMissingField
	}
	if tooLong(proposalID, MaxIDLen) || tooLong(signerID, MaxIDLen) {
		return Proposal{}, ErrFieldTooLong
	}

	p, err := s.store.Get(ctx, proposalID)
	if err != nil {
		return Proposal{}, err
	}
	now := s.now().UTC()

	var signerType SignerType
	if record := p.SignatureFor(signerID); record != nil {
		signerType = record.SignerType
	}
	if err := CanSign(p, signerID, signerType, now); err != nil {
		return Proposal{}, err
	}

	updated := p
	updated.Signatures = make([]Signature, len(p.Signatures))
	copy(updated.Signatures, p.Signatures)
	signedAt := now
	for i := range updated.Signatures {
		if updated.Signatures[i].SignerID == signerID {
			updated.Signatures[i].Status = SignatureSigned
			updated.Signatures[i].SignedAt = &signedAt
		}
	}
	updated.Version = p.Version + 1

	if !AllSignaturesCollected(updated) {
		if err := s.transition(ctx, p, updated); err != nil {
			return Proposal{}, err
		}
		s.record(ctx, signatureEvent(updated, signerID, signerType))
		return updated, nil
	}

	return s.activate(ctx, p, updated, signerID, signerType, now)
}

// activate commits the approved value to the agreement, retires any prior
// active proposal for the field and flips this proposal to active. The
// proposal's own compare-and-set comes last: until it lands, the document
// stays awaiting_signatures and the whole sequence can be replayed.
func (s *Service) activate(ctx context.Context, prev, updated Proposal, signerID string, signerType SignerType, now time.Time) (Proposal, error) {
	newVersion, err := s.agreements.Apply(ctx, updated.AgreementID, updated.ID, updated.ChangeType, updated.ProposedValue)
	if err != nil {
		return Proposal{}, infraErr("apply agreement change", err)
	}

	activatedAt := now
	updated.Status = StatusActive
	updated.ActivatedAt = &activatedAt
	updated.NewAgreementVersion = &newVersion

	// a rival activation can land between the retire pass and our own write;
	// the store rejects the second active row, so retire again and retry
	var retired []Proposal
	for attempt := 0; ; attempt++ {
		batch, err := s.retirePriorActive(ctx, updated)
		if err != nil {
			return Proposal{}, err
		}
		retired = append(retired, batch...)

		err = s.transition(ctx, prev, updated)
		if errors.Is(err, ErrActiveExists) && attempt < 2 {
			continue
		}
		if err != nil {
			return Proposal{}, err
		}
		break
	}

	s.record(ctx, signatureEvent(updated, signerID, signerType))
	s.record(ctx, Event{
		ProposalID: updated.ID,
		ChildID:    updated.ChildID,
		Type:       EventProposalActivated,
		ActorID:    signerID,
		Payload: map[string]any{
			"new_agreement_version": newVersion,
			"activated_at":          activatedAt,
		},
	})
	for _, old := range retired {
		s.record(ctx, Event{
			ProposalID: old.ID,
			ChildID:    old.ChildID,
			Type:       EventProposalSuperseded,
			Payload:    map[string]any{"superseded_by": updated.ID},
		})
	}
	return updated, nil
}

// retirePriorActive flips other active proposals for the same field to
// superseded. Conflicts mean a concurrent activation already retired the
// row, so they are skipped rather than failed.
func (s *Service) retirePriorActive(ctx context.Context, winner Proposal) ([]Proposal, error) {
	actives, err := s.store.Query(ctx, winner.ChildID, winner.ChangeType, []Status{StatusActive})
	if err != nil {
		return nil, err
	}
	winnerID := winner.ID
	var retired []Proposal
	for _, old := range actives {
		if old.ID == winnerID {
			continue
		}
		next := old
		next.Status = StatusSuperseded
		next.SupersededByProposalID = &winnerID
		next.Version = old.Version + 1
		err := s.transition(ctx, old, next)
		if errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		retired = append(retired, next)
	}
	return retired, nil
}

func signatureEvent(p Proposal, signerID string, signerType SignerType) Event {
	remaining := 0
	for _, sig := range p.Signatures {
		if sig.Status != SignatureSigned {
			remaining++
		}
	}
	return Event{
		ProposalID: p.ID,
		ChildID:    p.ChildID,
		Type:       EventSignatureRecorded,
		ActorID:    signerID,
		Payload: map[string]any{
			"signer_type": signerType,
			"remaining":   remaining,
		},
	}
}
