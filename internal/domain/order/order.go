package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/maiztros/pos/internal/domain/money"
)

// ValidID reports whether id is an order id in canonical 8-4-4-4-12 form.
// The urn, braced and undashed forms uuid.Parse accepts are rejected.
func ValidID(id string) bool {
	if len(id) != 36 || id[8] != '-' || id[13] != '-' || id[18] != '-' || id[23] != '-' {
		return false
	}
	return uuid.Validate(id) == nil
}

// Service types offered by the restaurant.
type ServiceType string

const (
	ServiceDineIn   ServiceType = "dine_in"
	ServicePickup   ServiceType = "pickup"
	ServiceDelivery ServiceType = "delivery"
)

// Zone is a delivery zone. Only meaningful for delivery orders.
type Zone string

const (
	ZoneZibata Zone = "zibata"
	ZoneFuera  Zone = "fuera"
)

// Slot is the POS menu category an item was picked from.
type Slot string

const (
	SlotBase       Slot = "base"
	SlotPapasOSopa Slot = "papas_o_sopa"
	SlotToppings   Slot = "toppings"
	SlotDrink      Slot = "drink"
)

// PaymentMethod is how the customer intends to pay.
type PaymentMethod string

const (
	// PaymentCOD is pay on delivery: cash collected at hand-off.
	PaymentCOD  PaymentMethod = "cod"
	PaymentCash PaymentMethod = "cash"
	// PaymentMP is the online payment gateway.
	PaymentMP PaymentMethod = "mp"
)

// PaymentStatus tracks payment capture for an order.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

var (
	// ErrNotFound is returned when an order does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrPaymentRequired is returned when delivering an unpaid order that is
	// not a dine-in cash-on-delivery order.
	ErrPaymentRequired = errors.New("payment required before delivery")
	// ErrAlreadyPaid is returned when an operation needs an unpaid order.
	ErrAlreadyPaid = errors.New("order already paid")
)

// Customer holds the denormalized customer fields.
type Customer struct {
	Name  string
	Email string
}

// Item is a single order line.
type Item struct {
	Slot  Slot
	Name  string
	Price money.Money
}

// Order is a persisted order.
type Order struct {
	ID            string
	Customer      Customer
	Service       ServiceType
	DeliveryZone  Zone
	PaymentMethod PaymentMethod
	Notes         string
	Items         []Item
	// Totals.Total is the amount due, i.e. after Discount.
	Totals        money.Totals
	Discount      money.Money
	CouponCode    string
	Status        Status
	PaymentStatus PaymentStatus
	CreatedAt     time.Time
	PreparedAt    *time.Time
	ReadyAt       *time.Time
	PaidAt        *time.Time
	DeliveredAt   *time.Time
}

// Paid reports whether payment has been captured.
func (o *Order) Paid() bool {
	return o.PaymentStatus == PaymentPaid
}

// DeliveryAllowed reports whether the payment precondition for delivery
// holds: the order is paid, or it is a dine-in order paid at hand-off.
func (o *Order) DeliveryAllowed() bool {
	if o.Paid() {
		return true
	}
	return o.Service == ServiceDineIn && o.PaymentMethod == PaymentCOD
}

// StatusLite is the minimal view polled by customers.
type StatusLite struct {
	Status Status
	PaidAt *time.Time
}

// Transition is a status change applied to an order.
type Transition struct {
	OrderID string
	From    Status
	To      Status
	At      time.Time
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Create stores the order, its items and the initial history row
	// atomically.
	Create(ctx context.Context, o *Order) error
	// Delete removes an order together with its items and history.
	Delete(ctx context.Context, id string) error
	// Get returns the order with its items, or ErrNotFound.
	Get(ctx context.Context, id string) (*Order, error)
	StatusLite(ctx context.Context, id string) (*StatusLite, error)
	// ListKitchen returns undelivered orders, oldest first.
	ListKitchen(ctx context.Context, limit int) ([]Order, error)
	// UpdateStatus applies tr if the order is still in tr.From and appends a
	// history row. It returns ErrStatusChanged when the order moved.
	UpdateStatus(ctx context.Context, tr Transition) error
	History(ctx context.Context, id string) ([]Transition, error)
	// ApplyDiscount stores the coupon code, discount and new total. It
	// returns ErrAlreadyPaid when the order is paid at write time.
	ApplyDiscount(ctx context.Context, id, code string, discount, total money.Money) error
}
