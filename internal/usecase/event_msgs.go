package usecase

import "time"

// Published on order.events / order.created after a checkout commits.
type CreatedMsg struct {
	EventID      string    `json:"eventId"`
	OrderID      int64     `json:"orderId"`
	TrackingCode string    `json:"trackingCode"`
	UserID       *int64    `json:"userId,omitempty"`
	Total        string    `json:"total"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Sent by the admin workflow on Kafka
type OrderStatusChangedMsg struct {
	OrderID int64  `json:"orderId"`
	Status  string `json:"status"` // e.g. "shipped"
	Actor   string `json:"actor,omitempty"`
}
