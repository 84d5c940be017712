package discount

import (
	"errors"
	"strings"
	"time"

	"github.com/addonhub/backend/internal/models"
	"gorm.io/gorm"
)

// Validation failures, ordered the way Validate reports them
var (
	ErrCodeNotFound    = errors.New("discount code not found")
	ErrCodeInactive    = errors.New("discount code is not active")
	ErrCodeNotYetValid = errors.New("discount code is not valid yet")
	ErrCodeExpired     = errors.New("discount code has expired")
	ErrCodeExhausted   = errors.New("discount code usage limit reached")
	ErrMinimumNotMet   = errors.New("order subtotal below the code's minimum purchase")
)

// ErrorKind maps a discount error to its machine-readable kind
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrCodeNotFound):
		return "code_not_found"
	case errors.Is(err, ErrCodeInactive):
		return "code_inactive"
	case errors.Is(err, ErrCodeNotYetValid):
		return "code_not_yet_valid"
	case errors.Is(err, ErrCodeExpired):
		return "code_expired"
	case errors.Is(err, ErrCodeExhausted):
		return "code_exhausted"
	case errors.Is(err, ErrMinimumNotMet):
		return "minimum_not_met"
	default:
		return "internal"
	}
}

// Engine validates and redeems discount codes. Redemption is an atomic
// conditional increment on the code row, so concurrent checkouts cannot
// both take the last usage slot.
type Engine struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewEngine creates a discount engine. A nil clock means wall-clock time.
func NewEngine(db *gorm.DB, clock func() time.Time) *Engine {
	if clock == nil {
		clock = time.Now
	}
	return &Engine{db: db, clock: clock}
}

// Normalize maps user input to the stored code form
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate checks a code against a subtotal without redeeming it and
// returns the first applicable failure. Minimum purchase is evaluated
// against the pre-discount subtotal.
func (e *Engine) Validate(rawCode string, subtotal float64) (*models.DiscountCode, error) {
	code, err := e.lookup(e.db, rawCode)
	if err != nil {
		return nil, err
	}
	if err := e.checkWindow(code); err != nil {
		return nil, err
	}
	if code.UsedCount >= code.UsageLimit {
		return nil, ErrCodeExhausted
	}
	if err := e.checkMinimum(code, subtotal); err != nil {
		return nil, err
	}
	return code, nil
}

// ComputeDiscount returns the discount amount a code yields on a subtotal.
// A percentage discount is capped by maximum_discount when set; a fixed
// discount never exceeds the subtotal itself.
func (e *Engine) ComputeDiscount(code *models.DiscountCode, subtotal float64) float64 {
	var amount float64
	switch code.DiscountType {
	case models.DiscountTypePercentage:
		amount = subtotal * code.DiscountValue / 100
		if code.MaximumDiscount != nil && amount > *code.MaximumDiscount {
			amount = *code.MaximumDiscount
		}
	case models.DiscountTypeFixed:
		amount = code.DiscountValue
	}
	if amount > subtotal {
		amount = subtotal
	}
	if amount < 0 {
		amount = 0
	}
	return amount
}

// Apply re-validates the code at order finalization time and claims one
// usage slot. It must run inside the transaction that creates the order;
// if the caller's transaction rolls back, the claim rolls back with it.
// The claim is `used_count = used_count + 1 WHERE used_count < usage_limit`
// so of two concurrent checkouts racing for the last slot exactly one wins.
func (e *Engine) Apply(tx *gorm.DB, rawCode string, subtotal float64) (*models.DiscountCode, float64, error) {
	code, err := e.lookup(tx, rawCode)
	if err != nil {
		return nil, 0, err
	}
	if err := e.checkWindow(code); err != nil {
		return nil, 0, err
	}

	result := tx.Model(&models.DiscountCode{}).
		Where("id = ? AND used_count < usage_limit", code.ID).
		Update("used_count", gorm.Expr("used_count + 1"))
	if result.Error != nil {
		return nil, 0, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, 0, ErrCodeExhausted
	}
	code.UsedCount++

	if err := e.checkMinimum(code, subtotal); err != nil {
		return nil, 0, err
	}

	return code, e.ComputeDiscount(code, subtotal), nil
}

// RecordUsage writes the redemption record tying a code to the order it
// discounted. Runs in the same transaction as Apply.
func (e *Engine) RecordUsage(tx *gorm.DB, codeID, orderID uint, amount float64) error {
	usage := models.DiscountUsage{
		DiscountCodeID: codeID,
		OrderID:        orderID,
		Amount:         amount,
	}
	return tx.Create(&usage).Error
}

func (e *Engine) lookup(db *gorm.DB, rawCode string) (*models.DiscountCode, error) {
	var code models.DiscountCode
	if err := db.Where("code = ?", Normalize(rawCode)).First(&code).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCodeNotFound
		}
		return nil, err
	}
	return &code, nil
}

// checkWindow runs the activity and validity-window checks in reporting
// order. Exhaustion sits between these and the minimum check: Validate
// reads the counter, Apply claims it atomically.
func (e *Engine) checkWindow(code *models.DiscountCode) error {
	now := e.clock()

	if !code.IsActive {
		return ErrCodeInactive
	}
	if code.ValidFrom != nil && now.Before(*code.ValidFrom) {
		return ErrCodeNotYetValid
	}
	if code.ValidUntil != nil && now.After(*code.ValidUntil) {
		return ErrCodeExpired
	}
	return nil
}

// checkMinimum compares the pre-discount subtotal against the code's
// minimum purchase requirement.
func (e *Engine) checkMinimum(code *models.DiscountCode, subtotal float64) error {
	if code.MinimumPurchase != nil && subtotal < *code.MinimumPurchase {
		return ErrMinimumNotMet
	}
	return nil
}
