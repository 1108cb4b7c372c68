// Package kyc implements the subscriber verification workflow: the profile
// aggregate, the status machine, per-document verification and the
// completion score.
package kyc

import (
	"encoding/json"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
)

var (
	ErrProfileNotFound   = errors.New("kyc profile not found")
	ErrDocumentNotFound  = errors.New("identity document not found")
	ErrProfileInactive   = errors.New("kyc profile is deactivated")
	ErrInvalidTransition = errors.New("transition not allowed")
	ErrVerificationPair  = errors.New("verified_at and verified_by must be set together with is_verified")
)

// Status is the KYC workflow state.
type Status string

const (
	StatusNotStarted    Status = "not_started"
	StatusInProgress    Status = "in_progress"
	StatusPendingReview Status = "pending_review"
	StatusApproved      Status = "approved"
	StatusRejected      Status = "rejected"
	StatusExpired       Status = "expired"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusNotStarted, StatusInProgress, StatusPendingReview, StatusApproved, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// Level is the depth of verification performed.
type Level string

const (
	LevelNone     Level = "none"
	LevelBasic    Level = "basic"
	LevelEnhanced Level = "enhanced"
	LevelFull     Level = "full"
)

func (l Level) Valid() bool {
	switch l {
	case LevelNone, LevelBasic, LevelEnhanced, LevelFull:
		return true
	}
	return false
}

// DocumentType enumerates accepted identity evidence.
type DocumentType string

const (
	DocumentPassport        DocumentType = "passport"
	DocumentDriversLicense  DocumentType = "drivers_license"
	DocumentNationalID      DocumentType = "national_id"
	DocumentResidencePermit DocumentType = "residence_permit"
	DocumentUtilityBill     DocumentType = "utility_bill"
	DocumentOther           DocumentType = "other"
)

// AML risk ratings derived from the risk score.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// RiskRating maps a score in [0,100] to an AML rating.
func RiskRating(score int) string {
	switch {
	case score <= 30:
		return RiskLow
	case score <= 70:
		return RiskMedium
	default:
		return RiskHigh
	}
}

type PersonalInfo struct {
	FirstName   string `json:"first_name,omitempty" validate:"omitempty,max=100"`
	LastName    string `json:"last_name,omitempty" validate:"omitempty,max=100"`
	DateOfBirth string `json:"date_of_birth,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Nationality string `json:"nationality,omitempty" validate:"omitempty,iso3166_1_alpha2"`
	Gender      string `json:"gender,omitempty" validate:"omitempty,max=32"`
}

type ContactInfo struct {
	Email      string `json:"email,omitempty" validate:"omitempty,email"`
	Phone      string `json:"phone,omitempty" validate:"omitempty,e164"`
	Country    string `json:"country,omitempty" validate:"omitempty,iso3166_1_alpha2"`
	City       string `json:"city,omitempty" validate:"omitempty,max=100"`
	Street     string `json:"street,omitempty" validate:"omitempty,max=200"`
	PostalCode string `json:"postal_code,omitempty" validate:"omitempty,max=20"`
}

type Employment struct {
	Status     string `json:"status,omitempty" validate:"omitempty,oneof=employed self_employed unemployed student retired"`
	Employer   string `json:"employer,omitempty" validate:"omitempty,max=200"`
	Occupation string `json:"occupation,omitempty" validate:"omitempty,max=100"`
}

type FinancialProfile struct {
	AnnualIncome  string `json:"annual_income,omitempty" validate:"omitempty,max=64"`
	SourceOfFunds string `json:"source_of_funds,omitempty" validate:"omitempty,max=200"`
	NetWorth      string `json:"net_worth,omitempty" validate:"omitempty,max=64"`
}

// Verification is the verified flag of a document together with who set it
// and when. The three values only change together through set.
type Verification struct {
	verified bool
	at       time.Time
	by       string
}

func (v Verification) IsVerified() bool { return v.verified }

// VerifiedAt is zero unless IsVerified.
func (v Verification) VerifiedAt() time.Time { return v.at }

// VerifiedBy is empty unless IsVerified.
func (v Verification) VerifiedBy() string { return v.by }

func (v *Verification) set(verified bool, actor string, at time.Time) {
	if verified {
		*v = Verification{verified: true, at: at.UTC(), by: actor}
		return
	}
	*v = Verification{}
}

type verificationJSON struct {
	IsVerified bool       `json:"is_verified"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
	VerifiedBy string     `json:"verified_by,omitempty"`
}

func (v Verification) MarshalJSON() ([]byte, error) {
	out := verificationJSON{IsVerified: v.verified}
	if v.verified {
		at := v.at
		out.VerifiedAt = &at
		out.VerifiedBy = v.by
	}
	return json.Marshal(out)
}

// UnmarshalJSON refuses a half-set record.
func (v *Verification) UnmarshalJSON(data []byte) error {
	var in verificationJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	switch {
	case in.IsVerified && (in.VerifiedAt == nil || in.VerifiedBy == ""):
		return ErrVerificationPair
	case !in.IsVerified && (in.VerifiedAt != nil || in.VerifiedBy != ""):
		return ErrVerificationPair
	case in.IsVerified:
		v.set(true, in.VerifiedBy, *in.VerifiedAt)
	default:
		v.set(false, "", time.Time{})
	}
	return nil
}

// IdentityDocument is one piece of identity evidence.
type IdentityDocument struct {
	ID             uuid.UUID    `json:"id"`
	Type           DocumentType `json:"type"`
	Number         string       `json:"number"`
	IssuingCountry string       `json:"issuing_country,omitempty"`
	IssueDate      string       `json:"issue_date,omitempty"`
	ExpiryDate     string       `json:"expiry_date,omitempty"`
	Verification   Verification `json:"verification"`
	AddedAt        time.Time    `json:"added_at"`
	AddedBy        string       `json:"added_by,omitempty"`
}

// Step is one entry of the append-only status history.
type Step struct {
	Step        Status    `json:"step"`
	From        Status    `json:"from"`
	Actor       string    `json:"actor"`
	CompletedAt time.Time `json:"completed_at"`
}

// KycStatus is the workflow state embedded in a profile.
type KycStatus struct {
	Level           Level      `json:"level"`
	Status          Status     `json:"status"`
	CompletedSteps  []Step     `json:"completed_steps"`
	RiskScore       *int       `json:"risk_score,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	SubmittedAt     *time.Time `json:"submitted_at,omitempty"`
	ReviewedAt      *time.Time `json:"reviewed_at,omitempty"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	RejectedAt      *time.Time `json:"rejected_at,omitempty"`
	ExpiredAt       *time.Time `json:"expired_at,omitempty"`
	LastActor       string     `json:"last_actor,omitempty"`
}

type Compliance struct {
	AMLRiskRating string `json:"aml_risk_rating,omitempty"`
}

// Deactivation records a soft delete. The profile is kept for the audit
// trail and refuses further mutation.
type Deactivation struct {
	At     time.Time `json:"at"`
	By     string    `json:"by"`
	Reason string    `json:"reason"`
}

// Profile is the KYC aggregate, one per subscriber.
type Profile struct {
	ID           uuid.UUID          `json:"id"`
	UserID       string             `json:"user_id"`
	Personal     PersonalInfo       `json:"personal_info"`
	Contact      ContactInfo        `json:"contact_info"`
	Employment   Employment         `json:"employment"`
	Financial    FinancialProfile   `json:"financial_profile"`
	Documents    []IdentityDocument `json:"identity_documents"`
	KYC          KycStatus          `json:"kyc_status"`
	Compliance   Compliance         `json:"compliance"`
	Completion   Completion         `json:"profile_completion"`
	Deactivation *Deactivation      `json:"deactivation,omitempty"`
	Version      int64              `json:"version"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// NewProfile returns an empty profile for userID in not_started.
func NewProfile(userID string, now time.Time) Profile {
	now = now.UTC()
	return Profile{
		ID:        uuid.New(),
		UserID:    userID,
		Documents: []IdentityDocument{},
		KYC: KycStatus{
			Level:          LevelNone,
			Status:         StatusNotStarted,
			CompletedSteps: []Step{},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Active reports whether the profile still accepts mutations.
func (p Profile) Active() bool { return p.Deactivation == nil }

// Document returns the document with id.
func (p Profile) Document(id uuid.UUID) (IdentityDocument, bool) {
	for _, d := range p.Documents {
		if d.ID == id {
			return d, true
		}
	}
	return IdentityDocument{}, false
}

// Clone returns a deep copy so that mutations never reach the caller's
// snapshot.
func (p Profile) Clone() Profile {
	p.Documents = slices.Clone(p.Documents)
	if p.Documents == nil {
		p.Documents = []IdentityDocument{}
	}
	p.KYC.CompletedSteps = slices.Clone(p.KYC.CompletedSteps)
	if p.KYC.CompletedSteps == nil {
		p.KYC.CompletedSteps = []Step{}
	}
	p.KYC.RiskScore = clonePtr(p.KYC.RiskScore)
	p.KYC.SubmittedAt = clonePtr(p.KYC.SubmittedAt)
	p.KYC.ReviewedAt = clonePtr(p.KYC.ReviewedAt)
	p.KYC.ApprovedAt = clonePtr(p.KYC.ApprovedAt)
	p.KYC.RejectedAt = clonePtr(p.KYC.RejectedAt)
	p.KYC.ExpiredAt = clonePtr(p.KYC.ExpiredAt)
	p.Completion.MissingFields = slices.Clone(p.Completion.MissingFields)
	p.Deactivation = clonePtr(p.Deactivation)
	return p
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
