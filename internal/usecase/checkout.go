package usecase

import (
	"context"
	"errors"
	"time"

	domain "github.com/aq2208/storefront-api/internal/entity"
	"github.com/aq2208/storefront-api/internal/logging"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	defaultTrackingAttempts = 3
	defaultRollbackTimeout  = 5 * time.Second
)

type OrderConfirmation struct {
	OrderID      int64           `json:"orderId"`
	TrackingCode string          `json:"trackingCode"`
	Total        decimal.Decimal `json:"total"`
}

type Checkout struct {
	store    UnitOfWork
	codes    CodeGenerator
	events   EventPublisher
	metrics  CheckoutMetrics
	timeout  time.Duration
	rbTTL    time.Duration
	attempts int
	guestID  int64
}

type CheckoutOption func(*Checkout)

func WithEvents(p EventPublisher) CheckoutOption         { return func(c *Checkout) { c.events = p } }
func WithMetrics(m CheckoutMetrics) CheckoutOption       { return func(c *Checkout) { c.metrics = m } }
func WithTimeout(d time.Duration) CheckoutOption         { return func(c *Checkout) { c.timeout = d } }
func WithRollbackTimeout(d time.Duration) CheckoutOption { return func(c *Checkout) { c.rbTTL = d } }
func WithTrackingAttempts(n int) CheckoutOption          { return func(c *Checkout) { c.attempts = n } }

// WithGuestAccount records guest orders under a sentinel user id instead of NULL.
func WithGuestAccount(id int64) CheckoutOption { return func(c *Checkout) { c.guestID = id } }

func NewCheckout(store UnitOfWork, codes CodeGenerator, opts ...CheckoutOption) *Checkout {
	c := &Checkout{
		store:    store,
		codes:    codes,
		rbTTL:    defaultRollbackTimeout,
		attempts: defaultTrackingAttempts,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.attempts <= 0 {
		c.attempts = defaultTrackingAttempts
	}
	return c
}

// Execute places the order described by req. Either every order, payment,
// line and stock mutation lands, or none does.
func (uc *Checkout) Execute(ctx context.Context, req domain.CheckoutRequest) (OrderConfirmation, error) {
	start := time.Now()
	conf, err := uc.execute(ctx, req)
	uc.observe(start, err)
	return conf, err
}

func (uc *Checkout) execute(ctx context.Context, req domain.CheckoutRequest) (OrderConfirmation, error) {
	if err := req.Validate(); err != nil {
		return OrderConfirmation{}, validationErr(err)
	}

	if uc.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, uc.timeout)
		defer cancel()
	}

	log := logging.FromCtx(ctx)
	total := req.Total()
	if req.ClientTotal != nil && !req.ClientTotal.Equal(total) {
		log.Warn("client total differs from computed total",
			"client_total", req.ClientTotal.String(), "total", total.String())
	}

	for attempt := 1; ; attempt++ {
		code := uc.codes.Generate()
		conf, err := uc.place(ctx, req, total, code)
		if err == nil {
			log.Info("checkout committed",
				"order_id", conf.OrderID, "tracking_code", code, "total", total.String(), "items", len(req.Items))
			uc.publish(ctx, req, conf)
			return conf, nil
		}
		if !errors.Is(err, errTrackingCollision) {
			return OrderConfirmation{}, err
		}
		if uc.metrics != nil {
			uc.metrics.TrackingCollision()
		}
		log.Warn("tracking code collision", "tracking_code", code, "attempt", attempt)
		if attempt >= uc.attempts {
			cause, rbErr := err, error(nil)
			var prev *CheckoutError
			if errors.As(err, &prev) {
				cause, rbErr = prev.Err, prev.RollbackErr
			}
			ce := internalErr("generate tracking code", errors.Join(errTrackingExhausted, cause))
			ce.RollbackErr = rbErr
			return OrderConfirmation{}, ce
		}
	}
}

// place runs one attempt with a fixed tracking code.
func (uc *Checkout) place(ctx context.Context, req domain.CheckoutRequest, total decimal.Decimal, code string) (_ OrderConfirmation, err error) {
	unit, err := uc.store.Begin(ctx)
	if err != nil {
		return OrderConfirmation{}, internalErr("begin", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		// the request context may already be cancelled; undo must still run
		rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), uc.rbTTL)
		defer cancel()
		if rbErr := unit.Rollback(rbCtx); rbErr != nil {
			logging.FromCtx(ctx).Error("checkout rollback incomplete",
				"tracking_code", code, "cause", err, "rollback_error", rbErr)
			if uc.metrics != nil {
				uc.metrics.CompensationFailed()
			}
			var ce *CheckoutError
			if errors.As(err, &ce) {
				ce.RollbackErr = rbErr
			}
		}
	}()

	order := &domain.Order{
		UserID:          req.UserID,
		TrackingCode:    code,
		Total:           total,
		CustomerName:    req.Customer.Name,
		ShippingAddress: req.Customer.Address,
		Phone:           req.Customer.Phone,
		TaxID:           req.Customer.TaxID,
		Email:           req.Customer.Email,
		Channel:         req.Channel(),
		Status:          domain.StatusPending,
	}
	if order.UserID == nil && uc.guestID > 0 {
		guest := uc.guestID
		order.UserID = &guest
	}

	orderID, err := unit.InsertOrder(ctx, order)
	if err != nil {
		if errors.Is(err, ErrDuplicateKey) {
			return OrderConfirmation{}, &CheckoutError{Kind: ErrInternal, Op: "insert order", Err: errors.Join(errTrackingCollision, err)}
		}
		return OrderConfirmation{}, internalErr("insert order", err)
	}
	order.ID = orderID

	payment := &domain.Payment{
		OrderID:            orderID,
		Amount:             total,
		Method:             req.PaymentMethod,
		OperationReference: req.OperationReference,
		EvidenceURL:        req.PaymentEvidenceURL,
		Status:             domain.PaymentPending,
	}
	if _, err = unit.InsertPayment(ctx, payment); err != nil {
		return OrderConfirmation{}, internalErr("insert payment", err)
	}

	for _, it := range req.Items {
		affected, err := unit.DecrementStock(ctx, it.ProductID, it.Quantity)
		if err != nil {
			return OrderConfirmation{}, internalErr("decrement stock", err)
		}
		if affected == 0 {
			return OrderConfirmation{}, stockErr(it.ProductID)
		}
		if _, err := unit.InsertOrderLine(ctx, domain.NewOrderLine(orderID, it)); err != nil {
			return OrderConfirmation{}, internalErr("insert order line", err)
		}
	}

	if err = ctx.Err(); err != nil {
		return OrderConfirmation{}, internalErr("commit", err)
	}
	if err = unit.Commit(ctx); err != nil {
		return OrderConfirmation{}, internalErr("commit", err)
	}
	committed = true

	return OrderConfirmation{OrderID: orderID, TrackingCode: code, Total: total}, nil
}

func (uc *Checkout) publish(ctx context.Context, req domain.CheckoutRequest, conf OrderConfirmation) {
	if uc.events == nil {
		return
	}
	msg := CreatedMsg{
		EventID:      uuid.NewString(),
		OrderID:      conf.OrderID,
		TrackingCode: conf.TrackingCode,
		UserID:       req.UserID,
		Total:        conf.Total.StringFixed(2),
		Status:       string(domain.StatusPending),
		CreatedAt:    time.Now().UTC(),
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := uc.events.PublishCreated(pubCtx, msg); err != nil {
		logging.FromCtx(ctx).Warn("publish order.created failed", "order_id", conf.OrderID, "error", err)
	}
}

func (uc *Checkout) observe(start time.Time, err error) {
	if uc.metrics == nil {
		return
	}
	outcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, ErrValidation):
		outcome = "validation_error"
	case errors.Is(err, ErrInsufficientStock):
		outcome = "insufficient_stock"
	default:
		outcome = "internal_error"
	}
	uc.metrics.ObserveCheckout(outcome, time.Since(start))
}
