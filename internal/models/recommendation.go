package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type RecommendationStatus string

const (
	StatusPending  RecommendationStatus = "PENDING"
	StatusApproved RecommendationStatus = "APPROVED"
	StatusDenied   RecommendationStatus = "DENIED"
)

// Recommendation is a trade proposal awaiting operator approval.
// Only PENDING recommendations change, and they change exactly once.
type Recommendation struct {
	ID         string               `json:"id"`
	Symbol     string               `json:"symbol"`
	Side       Side                 `json:"side"`
	Quantity   int64                `json:"quantity"`
	Price      decimal.Decimal      `json:"price"`
	Reason     string               `json:"reason"`
	Status     RecommendationStatus `json:"status"`
	CreatedAt  time.Time            `json:"created_at"`
	ResolvedAt *time.Time           `json:"resolved_at,omitempty"`
	TradeID    string               `json:"trade_id,omitempty"`
	Outcome    string               `json:"outcome,omitempty"`
}

// ShortID is the prefix shown in chat messages and accepted by approve/deny lookups.
func (r Recommendation) ShortID() string {
	if len(r.ID) > 8 {
		return r.ID[:8]
	}
	return r.ID
}
