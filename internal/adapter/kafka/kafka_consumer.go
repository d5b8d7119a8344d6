package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/aq2208/storefront-api/internal/logging"
	"github.com/aq2208/storefront-api/internal/usecase"
)

// ErrSkip tells the consumer to commit past a message that can never apply.
var ErrSkip = errors.New("skip message")

// HandlerFunc processes a decoded event.
type HandlerFunc func(ctx context.Context, ev usecase.OrderStatusChangedMsg) error

// Consumer consumes a topic with a single handler.
type Consumer struct {
	Group  sarama.ConsumerGroup
	Topics []string
	Handle HandlerFunc
	Logger *slog.Logger
}

func NewConsumer(group sarama.ConsumerGroup, topics []string, h HandlerFunc) *Consumer {
	return &Consumer{
		Group:  group,
		Topics: topics,
		Handle: h,
		Logger: logging.New("kafka"),
	}
}

// Start blocks until ctx is cancelled or the group fails.
func (c *Consumer) Start(ctx context.Context) error {
	handler := &cgHandler{handle: c.Handle, logger: c.Logger}
	go func() {
		for err := range c.Group.Errors() {
			c.Logger.Error("consumer group error", "error", err)
		}
	}()
	for {
		if err := c.Group.Consume(ctx, c.Topics, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return err
		}
		// Consume returns on rebalance or when ctx is done
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

const (
	retryBase = 200 * time.Millisecond
	retryMax  = 5 * time.Second
)

type cgHandler struct {
	handle    HandlerFunc
	logger    *slog.Logger
	retryBase time.Duration
	retryMax  time.Duration
}

func (h *cgHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *cgHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim processes a partition strictly in order. Offsets are committed
// up to the highest mark, so a message that failed transiently is retried in
// place; nothing after it is marked until it succeeds or is skipped.
func (h *cgHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		log := h.logger.With("topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)

		var ev usecase.OrderStatusChangedMsg
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			log.Warn("kafka decode error", "error", err)
			sess.MarkMessage(msg, "decode-error")
			continue
		}

		if !h.process(sess.Context(), log, msg, ev) {
			// session is ending; the next generation resumes from the last mark
			return nil
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}

// process returns false only when ctx ended before the event was applied.
func (h *cgHandler) process(ctx context.Context, log *slog.Logger, msg *sarama.ConsumerMessage, ev usecase.OrderStatusChangedMsg) bool {
	wait := h.retryBase
	if wait <= 0 {
		wait = retryBase
	}
	limit := h.retryMax
	if limit <= 0 {
		limit = retryMax
	}
	for attempt := 1; ; attempt++ {
		err := h.handle(ctx, ev)
		switch {
		case err == nil:
			return true
		case errors.Is(err, ErrSkip):
			log.Warn("status event dropped", "order_id", ev.OrderID, "status", ev.Status, "error", err)
			return true
		}
		log.Error("handler error", "order_id", ev.OrderID, "key", string(msg.Key), "attempt", attempt, "error", err)
		if ctx.Err() != nil {
			return false
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case <-t.C:
		}
		if wait *= 2; wait > limit {
			wait = limit
		}
	}
}
