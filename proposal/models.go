package proposal

import "time"

type Status string

const (
	StatusPending            Status = "pending"
	StatusApproved           Status = "approved"
	StatusDeclined           Status = "declined"
	StatusExpired            Status = "expired"
	StatusModified           Status = "modified"
	StatusAwaitingSignatures Status = "awaiting_signatures"
	StatusActive             Status = "active"
	StatusSuperseded         Status = "superseded"
	StatusSignatureExpired   Status = "signature_expired"
)

// statusTransitions is the single authority on which writes are legal.
// Service.transition consults it immediately before every compare-and-set.
var statusTransitions = map[Status][]Status{
	StatusPending:            {StatusAwaitingSignatures, StatusDeclined, StatusModified, StatusExpired},
	StatusAwaitingSignatures: {StatusAwaitingSignatures, StatusActive, StatusSignatureExpired},
	StatusActive:             {StatusSuperseded},
}

func ValidTransition(from, to Status) bool {
	for _, next := range statusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	switch s {
	case StatusDeclined, StatusExpired, StatusModified, StatusSuperseded, StatusSignatureExpired:
		return true
	}
	return false
}

type ChangeType string

const (
	ChangeTerms           ChangeType = "terms"
	ChangeMonitoringRules ChangeType = "monitoring_rules"
	ChangeScreenTime      ChangeType = "screen_time"
	ChangeBedtimeSchedule ChangeType = "bedtime_schedule"
	ChangeAppRestrictions ChangeType = "app_restrictions"
	ChangeContentFilters  ChangeType = "content_filters"
	ChangeConsequences    ChangeType = "consequences"
	ChangeRewards         ChangeType = "rewards"
)

func (c ChangeType) Valid() bool {
	switch c {
	case ChangeTerms, ChangeMonitoringRules, ChangeScreenTime, ChangeBedtimeSchedule,
		ChangeAppRestrictions, ChangeContentFilters, ChangeConsequences, ChangeRewards:
		return true
	}
	return false
}

type SignerType string

const (
	SignerParent SignerType = "parent"
	SignerChild  SignerType = "child"
)

type SignatureStatus string

const (
	SignaturePending SignatureStatus = "pending"
	SignatureSigned  SignatureStatus = "signed"
)

// Signature is one entry in the signing roster attached to an approved
// proposal. Entries are created pending and stamped signed exactly once.
type Signature struct {
	SignerID   string
	SignerType SignerType
	Status     SignatureStatus
	SignedAt   *time.Time
}

// Proposal is the full decision record for one requested agreement change.
// Documents are never deleted; terminal rows stay queryable as history.
type Proposal struct {
	ID          string
	ChildID     string
	AgreementID string
	ProposedBy  string

	ChangeType        ChangeType
	OriginalValue     *ChangeValue
	ProposedValue     ChangeValue
	ChangeDescription string

	Status Status

	CreatedAt time.Time
	ExpiresAt time.Time

	RespondedAt      *time.Time
	RespondedBy      *string
	DeclineMessage   *string
	ModificationNote *string

	SignatureDeadline *time.Time
	Signatures        []Signature
	ActivatedAt       *time.Time

	OriginalProposalID     *string
	SupersededByProposalID *string

	NewAgreementVersion *int64

	// Version is the optimistic-concurrency guard; every persisted write
	// increments it by exactly one.
	Version int64
}

// SignatureFor returns the roster entry for signerID, or nil when the signer
// is not on the proposal.
func (p *Proposal) SignatureFor(signerID string) *Signature {
	for i := range p.Signatures {
		if p.Signatures[i].SignerID == signerID {
			return &p.Signatures[i]
		}
	}
	return nil
}

const (
	MaxIDLen                = 128
	MaxMessageLen           = 500
	MaxChangeDescriptionLen = 2000
	MaxValueLen             = 10000
)

// Limits carries the tunable windows of the workflow. Services treat a Limits
// value as immutable after construction.
type Limits struct {
	ResponseWindow      time.Duration
	ReproposalCooldown  time.Duration
	SignatureWindow     time.Duration
	MaxProposalsPerHour int
}

func DefaultLimits() Limits {
	return Limits{
		ResponseWindow:      14 * 24 * time.Hour,
		ReproposalCooldown:  7 * 24 * time.Hour,
		SignatureWindow:     30 * 24 * time.Hour,
		MaxProposalsPerHour: 10,
	}
}
