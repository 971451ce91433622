package loan

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/boliseva-loan-ledger/internal/domain/shared"
)

// Common errors
var (
	ErrInvalidPrincipal = errors.New("principal must be positive")
	ErrInvalidTenure    = errors.New("tenure must be positive")
	ErrInvalidRate      = errors.New("interest rate must be positive")
)

// Status is a loan lifecycle state
type Status string

const (
	StatusApplied   Status = "applied"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusDisbursed Status = "disbursed"
)

// transitions lists the states reachable from each state
var transitions = map[Status][]Status{
	StatusApplied:  {StatusApproved, StatusRejected},
	StatusApproved: {StatusDisbursed},
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusApplied, StatusApproved, StatusRejected, StatusDisbursed:
		return true
	}
	return false
}

// CanTransitionTo reports whether a loan in status s may move to next
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Employment is the declared employment category of an applicant
type Employment string

const (
	EmploymentSalaried      Employment = "salaried"
	EmploymentSelfEmployed  Employment = "self_employed"
	EmploymentBusinessOwner Employment = "business_owner"
	EmploymentFarmer        Employment = "farmer"
	EmploymentStudent       Employment = "student"
	EmploymentUnemployed    Employment = "unemployed"
)

// Loan is a loan application and its lifecycle state
type Loan struct {
	ID                uuid.UUID  `json:"id"`
	UserID            string     `json:"user_id"`
	Category          Category   `json:"category"`
	Principal         int64      `json:"principal"` // Whole currency units
	Purpose           string     `json:"purpose"`
	MonthlyIncome     int64      `json:"monthly_income"`
	Employment        Employment `json:"employment"`
	Status            Status     `json:"status"`
	TenureMonths      int        `json:"tenure_months"`
	AnnualRate        float64    `json:"annual_rate"` // Percent
	DocumentsVerified bool       `json:"documents_verified"`
	ContactPhone      string     `json:"contact_phone,omitempty"`
	Version           int64      `json:"version"` // For optimistic locking
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// NewLoan creates a loan in applied status from a validated draft
func NewLoan(d Draft, now time.Time) (*Loan, error) {
	if d.Principal <= 0 {
		return nil, ErrInvalidPrincipal
	}
	if d.TenureMonths <= 0 {
		return nil, ErrInvalidTenure
	}
	if d.AnnualRate <= 0 {
		return nil, ErrInvalidRate
	}

	return &Loan{
		ID:                uuid.New(),
		UserID:            d.UserID,
		Category:          d.Category,
		Principal:         d.Principal,
		Purpose:           d.Purpose,
		MonthlyIncome:     d.MonthlyIncome,
		Employment:        d.Employment,
		Status:            StatusApplied,
		TenureMonths:      d.TenureMonths,
		AnnualRate:        d.AnnualRate,
		DocumentsVerified: d.DocumentsVerified,
		ContactPhone:      d.ContactPhone,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// TransitionTo moves the loan to next. Re-applying the current status is a no-op
// and reports changed == false.
func (l *Loan) TransitionTo(next Status, now time.Time) (changed bool, err error) {
	if l.Status == next {
		return false, nil
	}
	if !next.Valid() || !l.Status.CanTransitionTo(next) {
		return false, shared.InvalidTransitionError{
			Entity: "loan",
			ID:     l.ID.String(),
			From:   string(l.Status),
			To:     string(next),
		}
	}

	l.Status = next
	l.UpdatedAt = now
	l.Version++
	return true, nil
}

// Terms returns the tenure and rate used for the schedule, substituting defaults for missing values
func (l *Loan) Terms(defaultTenure int, defaultRate float64) (int, float64) {
	tenure, rate := l.TenureMonths, l.AnnualRate
	if tenure <= 0 {
		tenure = defaultTenure
	}
	if rate <= 0 {
		rate = defaultRate
	}
	return tenure, rate
}
