package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	domain "github.com/aq2208/storefront-api/internal/entity"
	"github.com/aq2208/storefront-api/internal/usecase"
	"github.com/shopspring/decimal"
)

const (
	maxErrBody        = 4 << 10
	pgUniqueViolation = "23505"
)

// PostgRESTStore talks to a PostgREST endpoint (e.g. Supabase's /rest/v1).
// Every request commits on its own, so checkouts go through
// usecase.NewCompensating. Stock changes use the decrement_stock and
// increment_stock SQL functions, which are single conditional UPDATEs.
type PostgRESTStore struct {
	base   string
	apiKey string
	hc     *http.Client
}

func NewPostgRESTStore(baseURL, apiKey string, timeout time.Duration) *PostgRESTStore {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PostgRESTStore{
		base:   strings.TrimRight(baseURL, "/"),
		apiKey: apiKey,
		hc:     &http.Client{Timeout: timeout},
	}
}

// apiError is PostgREST's error body.
type apiError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("postgrest %d %s: %s", e.Status, e.Code, e.Message)
}

type orderRow struct {
	ID              int64           `json:"id,omitempty"`
	UserID          *int64          `json:"user_id"`
	TrackingCode    string          `json:"tracking_code"`
	Total           decimal.Decimal `json:"total"`
	CustomerName    string          `json:"customer_name"`
	ShippingAddress string          `json:"shipping_address"`
	Phone           string          `json:"phone"`
	TaxID           string          `json:"tax_id"`
	Email           string          `json:"email"`
	Channel         string          `json:"channel"`
	Status          string          `json:"status"`
}

type paymentRow struct {
	OrderID            int64           `json:"order_id"`
	Amount             decimal.Decimal `json:"amount"`
	Method             string          `json:"method"`
	OperationReference string          `json:"operation_reference"`
	EvidenceURL        string          `json:"evidence_url"`
	Status             string          `json:"status"`
}

type lineRow struct {
	OrderID   int64           `json:"order_id"`
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

type stockArgs struct {
	ProductID string `json:"p_product_id"`
	Quantity  int    `json:"p_quantity"`
}

type idRow struct {
	ID int64 `json:"id"`
}

func (s *PostgRESTStore) InsertOrder(ctx context.Context, o *domain.Order) (int64, error) {
	return s.insert(ctx, "orders", orderRow{
		UserID:          o.UserID,
		TrackingCode:    o.TrackingCode,
		Total:           o.Total,
		CustomerName:    o.CustomerName,
		ShippingAddress: o.ShippingAddress,
		Phone:           o.Phone,
		TaxID:           o.TaxID,
		Email:           o.Email,
		Channel:         string(o.Channel),
		Status:          string(o.Status),
	})
}

func (s *PostgRESTStore) InsertPayment(ctx context.Context, p *domain.Payment) (int64, error) {
	return s.insert(ctx, "payments", paymentRow{
		OrderID:            p.OrderID,
		Amount:             p.Amount,
		Method:             string(p.Method),
		OperationReference: p.OperationReference,
		EvidenceURL:        p.EvidenceURL,
		Status:             string(p.Status),
	})
}

func (s *PostgRESTStore) InsertOrderLine(ctx context.Context, l *domain.OrderLine) (int64, error) {
	return s.insert(ctx, "order_lines", lineRow{
		OrderID:   l.OrderID,
		ProductID: l.ProductID,
		Quantity:  l.Quantity,
		UnitPrice: l.UnitPrice,
		Subtotal:  l.Subtotal,
	})
}

func (s *PostgRESTStore) DecrementStock(ctx context.Context, productID string, qty int) (int64, error) {
	var n int64
	if err := s.do(ctx, http.MethodPost, "/rpc/decrement_stock", nil, stockArgs{productID, qty}, &n); err != nil {
		return 0, classify("decrement stock", err)
	}
	return n, nil
}

func (s *PostgRESTStore) IncrementStock(ctx context.Context, productID string, qty int) error {
	err := s.do(ctx, http.MethodPost, "/rpc/increment_stock", nil, stockArgs{productID, qty}, nil)
	return classify("increment stock", err)
}

func (s *PostgRESTStore) DeleteOrder(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, "orders", id)
}

func (s *PostgRESTStore) DeletePayment(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, "payments", id)
}

func (s *PostgRESTStore) DeleteOrderLine(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, "order_lines", id)
}

func (s *PostgRESTStore) GetByID(ctx context.Context, id int64) (*domain.Order, error) {
	return s.getOrder(ctx, url.Values{"id": {"eq." + strconv.FormatInt(id, 10)}})
}

func (s *PostgRESTStore) GetByTrackingCode(ctx context.Context, code string) (*domain.Order, error) {
	return s.getOrder(ctx, url.Values{"tracking_code": {"eq." + code}})
}

func (s *PostgRESTStore) UpdateStatusIf(ctx context.Context, id int64, fromStatus, toStatus domain.Status) (bool, error) {
	q := url.Values{
		"id":     {"eq." + strconv.FormatInt(id, 10)},
		"status": {"eq." + string(fromStatus)},
		"select": {"id"},
	}
	var rows []idRow
	err := s.do(ctx, http.MethodPatch, "/orders", q, map[string]string{"status": string(toStatus)}, &rows)
	if err != nil {
		return false, classify("update status", err)
	}
	return len(rows) > 0, nil
}

// Ping fetches the OpenAPI root, which needs no table grants.
func (s *PostgRESTStore) Ping(ctx context.Context) error {
	return classify("ping", s.do(ctx, http.MethodGet, "/", nil, nil, nil))
}

func (s *PostgRESTStore) insert(ctx context.Context, table string, row any) (int64, error) {
	var rows []idRow
	if err := s.do(ctx, http.MethodPost, "/"+table, url.Values{"select": {"id"}}, row, &rows); err != nil {
		return 0, classify("insert "+table, err)
	}
	if len(rows) == 0 {
		return 0, fmt.Errorf("insert %s: empty representation", table)
	}
	return rows[0].ID, nil
}

func (s *PostgRESTStore) deleteByID(ctx context.Context, table string, id int64) error {
	q := url.Values{"id": {"eq." + strconv.FormatInt(id, 10)}, "select": {"id"}}
	var rows []idRow
	if err := s.do(ctx, http.MethodDelete, "/"+table, q, nil, &rows); err != nil {
		return classify("delete "+table, err)
	}
	// PostgREST answers 2xx even when the filter matched nothing
	if len(rows) == 0 {
		return fmt.Errorf("delete %s %d: %w", table, id, usecase.ErrNotFound)
	}
	return nil
}

func (s *PostgRESTStore) getOrder(ctx context.Context, q url.Values) (*domain.Order, error) {
	q.Set("select", "id,user_id,tracking_code,total,customer_name,shipping_address,phone,tax_id,email,channel,status")
	q.Set("limit", "1")
	var rows []orderRow
	if err := s.do(ctx, http.MethodGet, "/orders", q, nil, &rows); err != nil {
		return nil, classify("get order", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("get order: %w", usecase.ErrNotFound)
	}
	r := rows[0]
	return &domain.Order{
		ID:              r.ID,
		UserID:          r.UserID,
		TrackingCode:    r.TrackingCode,
		Total:           r.Total,
		CustomerName:    r.CustomerName,
		ShippingAddress: r.ShippingAddress,
		Phone:           r.Phone,
		TaxID:           r.TaxID,
		Email:           r.Email,
		Channel:         domain.Channel(r.Channel),
		Status:          domain.Status(r.Status),
	}, nil
}

func (s *PostgRESTStore) do(ctx context.Context, method, path string, q url.Values, body, out any) error {
	u := s.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", s.apiKey)
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if out != nil && method != http.MethodGet && !strings.HasPrefix(path, "/rpc/") {
		req.Header.Set("Prefer", "return=representation")
	}

	resp, err := s.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		ae := &apiError{Status: resp.StatusCode}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
		if json.Unmarshal(raw, ae) != nil || ae.Message == "" {
			ae.Message = strings.TrimSpace(string(raw))
		}
		return ae
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// classify maps transport and PostgREST failures onto the store error classes.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *apiError
	if errors.As(err, &ae) {
		switch {
		case ae.Code == pgUniqueViolation:
			return fmt.Errorf("%s: %w: %w", op, usecase.ErrDuplicateKey, err)
		case ae.Status == http.StatusConflict || strings.HasPrefix(ae.Code, "23"):
			return fmt.Errorf("%s: %w: %w", op, usecase.ErrConstraintViolation, err)
		case ae.Status >= 500 || ae.Status == http.StatusTooManyRequests:
			return fmt.Errorf("%s: %w: %w", op, usecase.ErrUnavailable, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("%s: %w: %v", op, usecase.ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

var (
	_ usecase.CompensableStore = (*PostgRESTStore)(nil)
	_ usecase.StatusRepo       = (*PostgRESTStore)(nil)
)
