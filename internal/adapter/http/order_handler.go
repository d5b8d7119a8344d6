package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/aq2208/storefront-api/internal/adapter/http/middleware"
	domain "github.com/aq2208/storefront-api/internal/entity"
	"github.com/aq2208/storefront-api/internal/logging"
	"github.com/aq2208/storefront-api/internal/usecase"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

const idempotencyHeader = "X-Idempotency-Key"

type OrderHandler struct {
	checkout *usecase.IdempotentCheckout
	track    *usecase.TrackOrder
	status   *usecase.UpdateStatus
}

func NewOrderHandler(checkout *usecase.IdempotentCheckout, track *usecase.TrackOrder, status *usecase.UpdateStatus) *OrderHandler {
	return &OrderHandler{checkout: checkout, track: track, status: status}
}

type customerReq struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
	TaxID   string `json:"taxId"`
	Email   string `json:"email"`
}

type itemReq struct {
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

// The user id is never taken from the body; it comes from the bearer token.
type checkoutReq struct {
	Customer           customerReq      `json:"customer"`
	Items              []itemReq        `json:"items"`
	PaymentMethod      string           `json:"paymentMethod"`
	OperationReference string           `json:"operationReference"`
	PaymentEvidenceURL string           `json:"paymentEvidenceUrl"`
	Total              *decimal.Decimal `json:"total"`
}

type checkoutResp struct {
	OrderID      int64  `json:"orderId"`
	TrackingCode string `json:"trackingCode"`
	Total        string `json:"total"`
	Message      string `json:"message"`
}

func (r checkoutReq) toDomain(userID *int64) domain.CheckoutRequest {
	items := make([]domain.CartItem, 0, len(r.Items))
	for _, it := range r.Items {
		items = append(items, domain.CartItem{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	return domain.CheckoutRequest{
		UserID: userID,
		Customer: domain.Customer{
			Name:    r.Customer.Name,
			Address: r.Customer.Address,
			Phone:   r.Customer.Phone,
			TaxID:   r.Customer.TaxID,
			Email:   r.Customer.Email,
		},
		Items:              items,
		PaymentMethod:      domain.PaymentMethod(r.PaymentMethod),
		OperationReference: r.OperationReference,
		PaymentEvidenceURL: r.PaymentEvidenceURL,
		ClientTotal:        r.Total,
	}
}

// PlaceOrder handler: translate to use case input
func (h *OrderHandler) PlaceOrder(c *gin.Context) {
	var req checkoutReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request"})
		return
	}

	idemKey := c.GetHeader(idempotencyHeader) // prevent duplicated requests

	conf, err := h.checkout.Execute(c.Request.Context(), idemKey, req.toDomain(middleware.UserID(c)))
	if err != nil {
		writeCheckoutErr(c, err)
		return
	}

	c.JSON(http.StatusCreated, checkoutResp{
		OrderID:      conf.OrderID,
		TrackingCode: conf.TrackingCode,
		Total:        conf.Total.StringFixed(2),
		Message:      "order placed, payment pending review",
	})
}

func writeCheckoutErr(c *gin.Context, err error) {
	var ce *usecase.CheckoutError
	switch {
	case errors.Is(err, usecase.ErrDuplicate):
		c.JSON(http.StatusConflict, gin.H{"error": "duplicate_request"})
	case errors.Is(err, usecase.ErrValidation):
		msg := "invalid request"
		if errors.As(err, &ce) && ce.Err != nil {
			msg = ce.Err.Error()
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": msg})
	case errors.Is(err, usecase.ErrInsufficientStock):
		productID := ""
		if errors.As(err, &ce) {
			productID = ce.ProductID
		}
		c.JSON(http.StatusConflict, gin.H{"error": "insufficient_stock", "productId": productID})
	default:
		_ = c.Error(err)
		logging.From(c).Error("checkout failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

func (h *OrderHandler) TrackOrder(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	view, err := h.track.Execute(ctx, c.Param("trackingCode"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, view)
	case errors.Is(err, usecase.ErrMalformedTracking):
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed_tracking_code"})
	case errors.Is(err, usecase.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	default:
		logging.From(c).Error("track order failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

type statusReq struct {
	Status string `json:"status" binding:"required"`
}

func (h *OrderHandler) UpdateStatus(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_order_id"})
		return
	}
	var req statusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request"})
		return
	}
	to, err := domain.ParseStatus(req.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_status"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	err = h.status.Execute(ctx, id, to)
	switch {
	case err == nil:
		logging.From(c).Info("status changed by admin", "order_id", id, "status", to, "actor", middleware.Actor(c))
		c.Status(http.StatusNoContent)
	case errors.Is(err, usecase.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, usecase.ErrInvalidTransition), errors.Is(err, usecase.ErrStatusConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "status_conflict", "message": err.Error()})
	default:
		logging.From(c).Error("update status failed", "order_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
