package event

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	PushNotiQueue    string = "push_noti_events"
	ClaimEventsQueue string = "oracle_claim_events"
)

type EventType string

const (
	EventClaimDecided      EventType = "claim.decided"
	EventPayoutCompleted   EventType = "payout.completed"
	EventPayoutFailed      EventType = "payout.failed"
	EventReconcileRequired EventType = "payout.reconcile_required"
	EventPolicyExpired     EventType = "policy.expired"
)

// NotificationEventPushModel is the noti-service push payload.
type NotificationEventPushModel struct {
	LstUserIds []string       `json:"lstUserIds,omitempty"`
	Title      string         `json:"title"`
	Body       string         `json:"body"`
	Data       map[string]any `json:"data,omitempty"`
}

// ClaimEvent is published to ClaimEventsQueue for downstream consumers
// (billing, reporting).
type ClaimEvent struct {
	Type       EventType       `json:"type"`
	ClaimID    uuid.UUID       `json:"claim_id,omitempty"`
	PolicyID   uuid.UUID       `json:"policy_id"`
	HolderID   string          `json:"holder_id"`
	Status     string          `json:"status"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency,omitempty"`
	Reference  string          `json:"reference,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}
