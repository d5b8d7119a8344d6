package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"

	domain "github.com/aq2208/storefront-api/internal/entity"
	"github.com/aq2208/storefront-api/internal/logging"
)

const guestScope = "guest"

type Placer interface {
	Execute(ctx context.Context, req domain.CheckoutRequest) (OrderConfirmation, error)
}

// idemRecord is what a settled key holds. Hash pins the request the key was
// first used with.
type idemRecord struct {
	Hash         string            `json:"hash"`
	Confirmation OrderConfirmation `json:"confirmation"`
}

// IdempotentCheckout replays the confirmation of an already placed order when
// the client resends the same idempotency key.
type IdempotentCheckout struct {
	next Placer
	idem IdempotencyStore
}

func NewIdempotentCheckout(next Placer, idem IdempotencyStore) *IdempotentCheckout {
	return &IdempotentCheckout{next: next, idem: idem}
}

func (uc *IdempotentCheckout) Execute(ctx context.Context, key string, req domain.CheckoutRequest) (OrderConfirmation, error) {
	key = strings.TrimSpace(key)
	if key == "" || uc.idem == nil {
		return uc.next.Execute(ctx, req)
	}
	log := logging.FromCtx(ctx)
	scope := idemScope(req.UserID)
	hash := requestHash(req)

	// Fast path: idempotency recall
	if raw, ok, err := uc.idem.Recall(ctx, scope, key); err != nil {
		log.Warn("idempotency recall failed", "error", err)
	} else if ok {
		var rec idemRecord
		if err := json.Unmarshal([]byte(raw), &rec); err == nil && rec.Hash != "" {
			if rec.Hash != hash {
				log.Warn("idempotency key reused with a different request", "key", key, "order_id", rec.Confirmation.OrderID)
				return OrderConfirmation{}, ErrDuplicate
			}
			log.Info("idempotent replay", "order_id", rec.Confirmation.OrderID, "tracking_code", rec.Confirmation.TrackingCode)
			return rec.Confirmation, nil
		}
		log.Warn("discarding unreadable idempotency record", "key", key)
	}

	ok, err := uc.idem.TryLock(ctx, scope, key)
	if err != nil {
		return OrderConfirmation{}, internalErr("idempotency lock", err)
	}
	if !ok {
		return OrderConfirmation{}, ErrDuplicate
	}

	conf, err := uc.next.Execute(ctx, req)
	if err != nil {
		// free the key so the client can retry after fixing the cart
		if rerr := uc.idem.Release(context.WithoutCancel(ctx), scope, key); rerr != nil {
			log.Warn("idempotency release failed", "error", rerr)
		}
		return OrderConfirmation{}, err
	}

	raw, _ := json.Marshal(idemRecord{Hash: hash, Confirmation: conf})
	if err := uc.idem.Remember(context.WithoutCancel(ctx), scope, key, string(raw)); err != nil {
		log.Warn("idempotency remember failed", "order_id", conf.OrderID, "error", err)
	}
	return conf, nil
}

// requestHash fingerprints the request body. Field order is fixed by the
// struct, so equal requests hash equally.
func requestHash(req domain.CheckoutRequest) string {
	b, _ := json.Marshal(req)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func idemScope(userID *int64) string {
	if userID == nil {
		return guestScope
	}
	return strconv.FormatInt(*userID, 10)
}
