package handler

import "github.com/boliseva-loan-ledger/internal/domain/loan"

// SubmitLoanRequest is a loan application. Business limits are checked by the ledger.
type SubmitLoanRequest struct {
	UserID            string  `json:"user_id" binding:"required"`
	Category          string  `json:"category" binding:"required"`
	Principal         int64   `json:"principal" binding:"required"`
	Purpose           string  `json:"purpose"`
	MonthlyIncome     int64   `json:"monthly_income"`
	Employment        string  `json:"employment"`
	TenureMonths      int     `json:"tenure_months"`
	AnnualRate        float64 `json:"annual_rate"`
	DocumentsVerified bool    `json:"documents_verified"`
	ContactPhone      string  `json:"contact_phone"`
}

func (r SubmitLoanRequest) draft() loan.Draft {
	return loan.Draft{
		UserID:            r.UserID,
		Category:          loan.Category(r.Category),
		Principal:         r.Principal,
		Purpose:           r.Purpose,
		MonthlyIncome:     r.MonthlyIncome,
		Employment:        loan.Employment(r.Employment),
		TenureMonths:      r.TenureMonths,
		AnnualRate:        r.AnnualRate,
		DocumentsVerified: r.DocumentsVerified,
		ContactPhone:      r.ContactPhone,
	}
}

// SetStatusRequest moves a loan through its lifecycle
type SetStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// LoansQuery filters loans by status
type LoansQuery struct {
	Status string `form:"status" binding:"required"`
}

// PayEMIRequest records a payment
type PayEMIRequest struct {
	PaymentMethod string `json:"payment_method" binding:"required"`
}

// QuoteQuery previews a schedule
type QuoteQuery struct {
	Principal    int64   `form:"principal" binding:"required"`
	AnnualRate   float64 `form:"annual_rate"`
	TenureMonths int     `form:"tenure_months"`
}

// PhoneRequest names the phone of an OTP operation
type PhoneRequest struct {
	Phone string `json:"phone" binding:"required"`
}

// VerifyOTPRequest checks a login code
type VerifyOTPRequest struct {
	Phone string `json:"phone" binding:"required"`
	Code  string `json:"code" binding:"required"`
}

// LimitResponse reports whether a phone is rate limited
type LimitResponse struct {
	Phone   string `json:"phone"`
	Limited bool   `json:"limited"`
}
