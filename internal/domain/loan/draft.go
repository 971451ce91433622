package loan

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/boliseva-loan-ledger/internal/domain/shared"
)

var validate = validator.New()

// Draft is the caller-supplied input for a new loan application
type Draft struct {
	UserID            string     `json:"user_id" validate:"required"`
	Category          Category   `json:"category" validate:"required,oneof=personal business agriculture education"`
	Principal         int64      `json:"principal" validate:"gt=0"`
	Purpose           string     `json:"purpose" validate:"required"`
	MonthlyIncome     int64      `json:"monthly_income" validate:"gt=0"`
	Employment        Employment `json:"employment" validate:"required,oneof=salaried self_employed business_owner farmer student unemployed"`
	TenureMonths      int        `json:"tenure_months" validate:"gte=0,lte=360"`
	AnnualRate        float64    `json:"annual_rate" validate:"gte=0,lte=100"`
	DocumentsVerified bool       `json:"documents_verified"`
	ContactPhone      string     `json:"contact_phone,omitempty" validate:"omitempty,min=10,max=16"`
}

// fieldNames maps struct fields to the names reported in validation errors
var fieldNames = map[string]string{
	"UserID":        "user_id",
	"Category":      "category",
	"Principal":     "principal",
	"Purpose":       "purpose",
	"MonthlyIncome": "monthly_income",
	"Employment":    "employment",
	"TenureMonths":  "tenure_months",
	"AnnualRate":    "annual_rate",
	"ContactPhone":  "contact_phone",
}

// Validate checks the draft against its field rules and the category's amount range.
// It returns a shared.ValidationError naming the first offending field.
func (d *Draft) Validate(catalog Catalog) error {
	d.Purpose = strings.TrimSpace(d.Purpose)

	if err := validate.Struct(d); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return shared.ValidationError{Field: fieldNames[fe.StructField()], Reason: describe(fe)}
		}
		return fmt.Errorf("failed to validate loan draft: %w", err)
	}

	limits, ok := catalog.Limits(d.Category)
	if !ok {
		return shared.ValidationError{Field: "category", Reason: "unknown loan category"}
	}
	if d.Principal < limits.MinAmount || d.Principal > limits.MaxAmount {
		return shared.ValidationError{
			Field:  "principal",
			Reason: fmt.Sprintf("must be between %d and %d for %s loans", limits.MinAmount, limits.MaxAmount, d.Category),
		}
	}

	return nil
}

// ApplyDefaults fills in tenure and rate when the caller left them empty
func (d *Draft) ApplyDefaults(tenure int, rate float64) {
	if d.TenureMonths == 0 {
		d.TenureMonths = tenure
	}
	if d.AnnualRate == 0 {
		d.AnnualRate = rate
	}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	default:
		return "failed " + fe.Tag() + " check"
	}
}
