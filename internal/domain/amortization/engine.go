// Package amortization computes fixed monthly installments and repayment schedules
// using the reducing-balance annuity formula.
package amortization

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidPrincipal = errors.New("principal must be positive")
	ErrInvalidTenure    = errors.New("tenure must be at least one month")
	ErrInvalidRate      = errors.New("annual rate cannot be negative")
)

// DefaultAnchorDay is the day of month on which installments fall due
const DefaultAnchorDay = 5

var (
	twelveHundred = decimal.NewFromInt(1200)
	one           = decimal.NewFromInt(1)
)

// Installment is a single scheduled repayment
type Installment struct {
	Sequence int       `json:"sequence"`
	DueDate  time.Time `json:"due_date"`
	Amount   int64     `json:"amount"`
}

// Schedule is the full list of installments for a loan
type Schedule struct {
	MonthlyInstallment int64         `json:"monthly_installment"`
	Installments       []Installment `json:"installments"`
}

// Total returns the sum of all installments
func (s Schedule) Total() int64 {
	var total int64
	for _, inst := range s.Installments {
		total += inst.Amount
	}
	return total
}

// TotalInterest is the display-only difference between the repaid total and the principal
func (s Schedule) TotalInterest(principal int64) int64 {
	return s.Total() - principal
}

// MonthlyInstallment returns the fixed EMI rounded to the nearest whole currency unit.
// A zero rate repays the principal in equal parts.
func MonthlyInstallment(principal int64, annualRate float64, tenure int) (int64, error) {
	if principal <= 0 {
		return 0, ErrInvalidPrincipal
	}
	if tenure <= 0 {
		return 0, ErrInvalidTenure
	}
	if annualRate < 0 {
		return 0, ErrInvalidRate
	}

	p := decimal.NewFromInt(principal)
	n := decimal.NewFromInt(int64(tenure))

	if annualRate == 0 {
		return p.Div(n).Round(0).IntPart(), nil
	}

	monthlyRate := decimal.NewFromFloat(annualRate).Div(twelveHundred)
	growth := one.Add(monthlyRate).Pow(n)

	emi := p.Mul(monthlyRate).Mul(growth).Div(growth.Sub(one))
	return emi.Round(0).IntPart(), nil
}

// Engine builds schedules anchored on a fixed day of the month
type Engine struct {
	AnchorDay int
}

// NewEngine creates an engine, falling back to DefaultAnchorDay for out of range days
func NewEngine(anchorDay int) *Engine {
	if anchorDay < 1 || anchorDay > 31 {
		anchorDay = DefaultAnchorDay
	}
	return &Engine{AnchorDay: anchorDay}
}

// Schedule produces tenure installments of identical amount, the first one due in the
// month following start.
func (e *Engine) Schedule(principal int64, annualRate float64, tenure int, start time.Time) (Schedule, error) {
	amount, err := MonthlyInstallment(principal, annualRate, tenure)
	if err != nil {
		return Schedule{}, err
	}

	installments := make([]Installment, 0, tenure)
	for i := 1; i <= tenure; i++ {
		installments = append(installments, Installment{
			Sequence: i,
			DueDate:  e.dueDate(start, i),
			Amount:   amount,
		})
	}

	return Schedule{
		MonthlyInstallment: amount,
		Installments:       installments,
	}, nil
}

// dueDate returns the anchor day of the month offset months after start,
// clamped to the last day of shorter months.
func (e *Engine) dueDate(start time.Time, offset int) time.Time {
	firstOfMonth := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, offset, 0)
	lastDay := firstOfMonth.AddDate(0, 1, -1).Day()

	day := e.AnchorDay
	if day > lastDay {
		day = lastDay
	}
	return firstOfMonth.AddDate(0, 0, day-1)
}
