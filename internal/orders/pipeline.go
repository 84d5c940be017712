package orders

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/addonhub/backend/internal/discount"
	"github.com/addonhub/backend/internal/licensing"
	"github.com/addonhub/backend/internal/models"
	"github.com/addonhub/backend/internal/notify"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrProductNotFound   = errors.New("product not found or inactive")
	ErrEmptyCart         = errors.New("order must contain at least one item")
	ErrInvalidOrderState = errors.New("operation not allowed in the order's current payment state")
	// ErrIssuanceFailed means verification was rolled back whole; the order
	// stays pending_verification and carries no partial licenses.
	ErrIssuanceFailed = errors.New("license issuance failed, verification rolled back")
	// ErrTransient means a storage conflict survived the internal retry;
	// the whole request may be retried.
	ErrTransient = errors.New("transient storage conflict")
)

// ErrorKind maps a pipeline error to its machine-readable kind
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrOrderNotFound):
		return "order_not_found"
	case errors.Is(err, ErrProductNotFound):
		return "product_not_found"
	case errors.Is(err, ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, ErrInvalidOrderState):
		return "invalid_order_state"
	case errors.Is(err, ErrIssuanceFailed):
		return "issuance_failed"
	case errors.Is(err, ErrTransient):
		return "transient"
	default:
		return "internal"
	}
}

// Options carries the pipeline's pricing and deadline knobs
type Options struct {
	TaxRatePercent     float64
	PaymentDeadlineHrs int
}

// Pipeline turns carts into unpaid orders and verified payments into
// issued licenses. The two multi-entity writes (discount claim + order
// creation, payment verification + batch issuance) each run as a single
// transaction.
type Pipeline struct {
	db       *gorm.DB
	clock    func() time.Time
	engine   *discount.Engine
	machine  *licensing.StateMachine
	notifier *notify.Dispatcher
	opts     Options
}

// NewPipeline creates an order pipeline. A nil clock means wall-clock time.
func NewPipeline(db *gorm.DB, engine *discount.Engine, machine *licensing.StateMachine, notifier *notify.Dispatcher, opts Options, clock func() time.Time) *Pipeline {
	if clock == nil {
		clock = time.Now
	}
	if opts.PaymentDeadlineHrs <= 0 {
		opts.PaymentDeadlineHrs = 72
	}
	return &Pipeline{
		db:       db,
		clock:    clock,
		engine:   engine,
		machine:  machine,
		notifier: notifier,
		opts:     opts,
	}
}

// CartItem is one product line in a checkout request
type CartItem struct {
	ProductID uint `json:"product_id"`
	Quantity  int  `json:"quantity"`
}

// SubmitOrder prices the cart from the catalog, applies an optional
// discount code and persists the order as unpaid. The discount claim, the
// usage record and the order row commit or roll back together.
func (p *Pipeline) SubmitOrder(customerID uint, cart []CartItem, discountCode string) (*models.Order, error) {
	if len(cart) == 0 {
		return nil, ErrEmptyCart
	}

	now := p.clock()
	var order *models.Order

	// The discount claim is a serialized counter; a storage conflict rolls
	// the whole transaction back, so the retry re-runs it from the top.
	err := withRetry(func() error {
		order = nil
		return p.submitTx(now, customerID, cart, discountCode, &order)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("Pipeline: order %s created for customer %d, total %.2f", order.OrderNumber, customerID, order.TotalAmount)
	return order, nil
}

func (p *Pipeline) submitTx(now time.Time, customerID uint, cart []CartItem, discountCode string, out **models.Order) error {
	return p.db.Transaction(func(tx *gorm.DB) error {
		var items []models.OrderItem
		var subtotal float64

		for _, line := range cart {
			qty := line.Quantity
			if qty < 1 {
				qty = 1
			}

			var product models.Product
			if err := tx.Where("id = ? AND is_active = ?", line.ProductID, true).First(&product).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrProductNotFound
				}
				return err
			}

			lineTotal := product.Price * float64(qty)
			subtotal += lineTotal
			items = append(items, models.OrderItem{
				ProductID:   product.ID,
				ProductName: product.Name,
				UnitPrice:   product.Price,
				Quantity:    qty,
				Total:       lineTotal,
			})
		}

		var discountAmount float64
		var codeID *uint
		if strings.TrimSpace(discountCode) != "" {
			code, amount, err := p.engine.Apply(tx, discountCode, subtotal)
			if err != nil {
				return err
			}
			discountAmount = amount
			codeID = &code.ID
		}

		taxable := subtotal - discountAmount
		tax := round2(taxable * p.taxRatePercent(tx) / 100)
		total := round2(taxable + tax)

		o := models.Order{
			OrderNumber:     generateOrderNumber(now),
			CustomerID:      customerID,
			SubTotal:        round2(subtotal),
			Discount:        round2(discountAmount),
			Tax:             tax,
			TotalAmount:     total,
			Status:          models.OrderStatusPending,
			PaymentStatus:   models.PaymentStatusUnpaid,
			PaymentDeadline: now.Add(time.Duration(p.opts.PaymentDeadlineHrs) * time.Hour),
			DiscountCodeID:  codeID,
			Items:           items,
		}
		if err := tx.Create(&o).Error; err != nil {
			return err
		}

		if codeID != nil {
			if err := p.engine.RecordUsage(tx, *codeID, o.ID, discountAmount); err != nil {
				return err
			}
		}

		*out = &o
		return nil
	})
}

// taxRatePercent reads the operator-set tax rate, falling back to the
// configured default when no preference row is present.
func (p *Pipeline) taxRatePercent(tx *gorm.DB) float64 {
	var pref models.SystemPreference
	if err := tx.Where("key = ?", "tax_rate_percent").First(&pref).Error; err == nil {
		if rate, err := strconv.ParseFloat(pref.Value, 64); err == nil && rate >= 0 {
			return rate
		}
	}
	return p.opts.TaxRatePercent
}

// ProofInput is the bank transfer receipt a customer submits
type ProofInput struct {
	BankName       string    `json:"bank_name"`
	AccountName    string    `json:"account_name"`
	TransferAmount float64   `json:"transfer_amount"`
	TransferDate   time.Time `json:"transfer_date"`
	ImageRef       string    `json:"image_ref"`
}

// SubmitPaymentProof attaches a transfer receipt to an unpaid or rejected
// order and moves it to pending_verification. A resubmission after a
// rejection replaces the previous proof.
func (p *Pipeline) SubmitPaymentProof(orderID uint, input ProofInput) (*models.PaymentProof, error) {
	var proof *models.PaymentProof

	err := p.db.Transaction(func(tx *gorm.DB) error {
		var order models.Order
		if err := tx.First(&order, orderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrOrderNotFound
			}
			return err
		}

		if order.PaymentStatus != models.PaymentStatusUnpaid && order.PaymentStatus != models.PaymentStatusRejected {
			return ErrInvalidOrderState
		}

		pp := models.PaymentProof{
			OrderID:        order.ID,
			BankName:       input.BankName,
			AccountName:    input.AccountName,
			TransferAmount: input.TransferAmount,
			TransferDate:   input.TransferDate,
			ImageRef:       input.ImageRef,
			Status:         models.ProofStatusPending,
		}

		var existing models.PaymentProof
		err := tx.Where("order_id = ?", order.ID).First(&existing).Error
		switch {
		case err == nil:
			pp.ID = existing.ID
			pp.CreatedAt = existing.CreatedAt
			if err := tx.Save(&pp).Error; err != nil {
				return err
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := tx.Create(&pp).Error; err != nil {
				return err
			}
		default:
			return err
		}

		if err := tx.Model(&order).Update("payment_status", models.PaymentStatusPendingVerification).Error; err != nil {
			return err
		}

		proof = &pp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return proof, nil
}

// Verify confirms the payment and issues one license per item unit. The
// payment flip and the whole batch commit together; if any single issuance
// fails the order returns to pending_verification untouched with zero
// licenses attached, ready for an operator retry.
func (p *Pipeline) Verify(orderID uint, verifiedBy uint) (*models.Order, error) {
	now := p.clock()
	var order models.Order
	var issued []models.License

	err := p.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Preload("Items").First(&order, orderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrOrderNotFound
			}
			return err
		}

		if order.PaymentStatus != models.PaymentStatusPendingVerification {
			return ErrInvalidOrderState
		}

		if err := tx.Model(&order).Updates(map[string]interface{}{
			"payment_status": models.PaymentStatusPaid,
			"status":         models.OrderStatusCompleted,
		}).Error; err != nil {
			return err
		}

		if err := tx.Model(&models.PaymentProof{}).
			Where("order_id = ?", order.ID).
			Updates(map[string]interface{}{
				"status":      models.ProofStatusVerified,
				"verified_at": now,
				"verified_by": verifiedBy,
			}).Error; err != nil {
			return err
		}

		for _, item := range order.Items {
			// Scope, type and duration come from the product configuration
			// as it stands at issuance time
			var product models.Product
			if err := tx.First(&product, item.ProductID).Error; err != nil {
				return fmt.Errorf("%w: item %d: %v", ErrIssuanceFailed, item.ID, err)
			}

			for unit := 0; unit < item.Quantity; unit++ {
				license, err := p.machine.Issue(tx, licensing.IssueParams{
					CustomerID:     order.CustomerID,
					OrderID:        &order.ID,
					ProductID:      product.ID,
					Scope:          product.LicenseScope,
					Type:           product.LicenseType,
					Duration:       product.Duration,
					MaxActivations: product.MaxActivations,
				})
				if err != nil {
					return fmt.Errorf("%w: item %d: %v", ErrIssuanceFailed, item.ID, err)
				}
				issued = append(issued, *license)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	order.PaymentStatus = models.PaymentStatusPaid
	order.Status = models.OrderStatusCompleted

	p.notifier.Emit(models.NotificationEventPaymentVerified, order.CustomerID, &order.ID, nil, map[string]interface{}{
		"order_number": order.OrderNumber,
	})
	for i := range issued {
		p.notifier.Emit(models.NotificationEventLicenseIssued, order.CustomerID, &order.ID, &issued[i].ID, map[string]interface{}{
			"license_key": issued[i].Key,
			"product_id":  issued[i].ProductID,
		})
	}

	log.Printf("Pipeline: order %s verified, %d license(s) issued", order.OrderNumber, len(issued))
	return &order, nil
}

// Reject marks the submitted proof as rejected with a reason. The customer
// may submit a new proof afterwards.
func (p *Pipeline) Reject(orderID uint, rejectedBy uint, reason string) error {
	err := p.db.Transaction(func(tx *gorm.DB) error {
		var order models.Order
		if err := tx.First(&order, orderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrOrderNotFound
			}
			return err
		}

		if order.PaymentStatus != models.PaymentStatusPendingVerification {
			return ErrInvalidOrderState
		}

		if err := tx.Model(&order).Update("payment_status", models.PaymentStatusRejected).Error; err != nil {
			return err
		}

		return tx.Model(&models.PaymentProof{}).
			Where("order_id = ?", order.ID).
			Updates(map[string]interface{}{
				"status":           models.ProofStatusRejected,
				"rejection_reason": reason,
				"verified_by":      rejectedBy,
			}).Error
	})
	if err != nil {
		return err
	}

	var order models.Order
	if p.db.First(&order, orderID).Error == nil {
		p.notifier.Emit(models.NotificationEventPaymentRejected, order.CustomerID, &order.ID, nil, map[string]interface{}{
			"order_number": order.OrderNumber,
			"reason":       reason,
		})
	}
	return nil
}

// CancelOverdue cancels unpaid orders whose payment deadline has passed.
// The deadline is a soft timeout; orders already under verification are
// never touched.
func (p *Pipeline) CancelOverdue() (int64, error) {
	result := p.db.Model(&models.Order{}).
		Where("status = ? AND payment_status = ? AND payment_deadline < ?",
			models.OrderStatusPending, models.PaymentStatusUnpaid, p.clock()).
		Update("status", models.OrderStatusCancelled)
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		log.Printf("Pipeline: cancelled %d overdue unpaid order(s)", result.RowsAffected)
	}
	return result.RowsAffected, nil
}

func generateOrderNumber(now time.Time) string {
	id := uuid.New().String()
	return fmt.Sprintf("ORD-%s-%s", now.Format("20060102"), strings.ToUpper(id[:8]))
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

// withRetry retries a storage operation once with a short backoff when it
// failed for a non-domain reason (lock timeout, serialization failure).
// Domain errors surface immediately.
func withRetry(op func() error) error {
	err := op()
	if err == nil || isDomainError(err) {
		return err
	}

	time.Sleep(50 * time.Millisecond)
	if err = op(); err == nil || isDomainError(err) {
		return err
	}
	log.Printf("Pipeline: storage conflict not resolved by retry: %v", err)
	return ErrTransient
}

func isDomainError(err error) bool {
	if kind := ErrorKind(err); kind != "internal" && kind != "transient" {
		return true
	}
	return discount.ErrorKind(err) != "internal"
}
