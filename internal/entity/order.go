package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusCancelled},
	StatusShipped:    {StatusDelivered, StatusCancelled},
}

func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled:
		return st, nil
	}
	return "", fmt.Errorf("unknown order status %q", s)
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

func (s Status) CanTransitionTo(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentConfirmed PaymentStatus = "confirmed"
	PaymentRejected  PaymentStatus = "rejected"
)

type Channel string

const (
	ChannelGuest   Channel = "guest"
	ChannelAccount Channel = "account"
)

type PaymentMethod string

const (
	PaymentYape           PaymentMethod = "yape"
	PaymentPlin           PaymentMethod = "plin"
	PaymentBankTransfer   PaymentMethod = "bank_transfer"
	PaymentCashOnDelivery PaymentMethod = "cash_on_delivery"
)

func (m PaymentMethod) Known() bool {
	switch m {
	case PaymentYape, PaymentPlin, PaymentBankTransfer, PaymentCashOnDelivery:
		return true
	}
	return false
}

// RequiresReference is true for mobile-wallet transfers, which are matched
// against the wallet's operation number during review.
func (m PaymentMethod) RequiresReference() bool {
	return m == PaymentYape || m == PaymentPlin
}

var (
	ErrEmptyCart         = errors.New("cart is empty")
	ErrMissingCustomer   = errors.New("customer name, address and phone are required")
	ErrInvalidItem       = errors.New("invalid cart item")
	ErrUnknownPayment    = errors.New("unknown payment method")
	ErrMissingReference  = errors.New("operation reference required for this payment method")
	ErrNegativeUnitPrice = errors.New("unit price must not be negative")
)

type Customer struct {
	Name    string
	Address string
	Phone   string
	TaxID   string
	Email   string
}

type CartItem struct {
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
}

// Subtotal is UnitPrice*Quantity rounded to the currency's minor unit.
func (i CartItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity))).Round(2)
}

type CheckoutRequest struct {
	UserID             *int64
	Customer           Customer
	Items              []CartItem
	PaymentMethod      PaymentMethod
	OperationReference string
	PaymentEvidenceURL string

	// ClientTotal is what the storefront displayed. Never persisted.
	ClientTotal *decimal.Decimal
}

func (r CheckoutRequest) Validate() error {
	c := r.Customer
	if strings.TrimSpace(c.Name) == "" || strings.TrimSpace(c.Address) == "" || strings.TrimSpace(c.Phone) == "" {
		return ErrMissingCustomer
	}
	if len(r.Items) == 0 {
		return ErrEmptyCart
	}
	for i, it := range r.Items {
		if strings.TrimSpace(it.ProductID) == "" {
			return fmt.Errorf("%w: item %d has no product id", ErrInvalidItem, i)
		}
		if it.Quantity <= 0 {
			return fmt.Errorf("%w: item %d (%s) quantity must be positive", ErrInvalidItem, i, it.ProductID)
		}
		if it.UnitPrice.IsNegative() {
			return fmt.Errorf("%w: item %d (%s)", ErrNegativeUnitPrice, i, it.ProductID)
		}
	}
	if !r.PaymentMethod.Known() {
		return fmt.Errorf("%w: %q", ErrUnknownPayment, r.PaymentMethod)
	}
	if r.PaymentMethod.RequiresReference() && strings.TrimSpace(r.OperationReference) == "" {
		return ErrMissingReference
	}
	return nil
}

// Total is the authoritative order amount: the sum of rounded line subtotals.
func (r CheckoutRequest) Total() decimal.Decimal {
	total := decimal.Zero
	for _, it := range r.Items {
		total = total.Add(it.Subtotal())
	}
	return total
}

func (r CheckoutRequest) Channel() Channel {
	if r.UserID != nil {
		return ChannelAccount
	}
	return ChannelGuest
}

type Order struct {
	ID              int64
	UserID          *int64
	TrackingCode    string
	Total           decimal.Decimal
	CustomerName    string
	ShippingAddress string
	Phone           string
	TaxID           string
	Email           string
	Channel         Channel
	Status          Status
}

type Payment struct {
	ID                 int64
	OrderID            int64
	Amount             decimal.Decimal
	Method             PaymentMethod
	OperationReference string
	EvidenceURL        string
	Status             PaymentStatus
}

type OrderLine struct {
	ID        int64
	OrderID   int64
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
	Subtotal  decimal.Decimal
}

func NewOrderLine(orderID int64, it CartItem) *OrderLine {
	return &OrderLine{
		OrderID:   orderID,
		ProductID: it.ProductID,
		Quantity:  it.Quantity,
		UnitPrice: it.UnitPrice,
		Subtotal:  it.Subtotal(),
	}
}
