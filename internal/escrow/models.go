package escrow

import (
	"time"

	"gorm.io/gorm"
)

// Counterparty is the optional accepting party of an order. The Assigned flag
// is the source of truth: an order with Assigned == false has no supplier even
// if a stale ID is present from a previous cycle.
type Counterparty struct {
	ID       string `json:"id,omitempty"`
	Assigned bool   `json:"assigned"`
}

// IsAssigned reports whether a supplier currently holds the order.
func (c Counterparty) IsAssigned() bool {
	return c.Assigned
}

// Is reports whether the given party is the currently assigned supplier.
func (c Counterparty) Is(partyID string) bool {
	return c.Assigned && c.ID == partyID
}

type Order struct {
	gorm.Model  `json:"-"`
	OrderID     string       `gorm:"uniqueIndex" json:"order_id"`
	BuyerID     string       `gorm:"index" json:"buyer_id"`
	Supplier    Counterparty `gorm:"embedded;embeddedPrefix:supplier_" json:"supplier"`
	Product     string       `json:"product"`
	Description string       `json:"description"`
	Quantity    int64        `json:"quantity"`
	Price       int64        `json:"price"`
	Escrow      int64        `json:"escrow"`
	Status      string       `json:"status"` // display label only, never read by transitions
	Fulfilled   bool         `json:"fulfilled"`
	Disputed    bool         `json:"disputed"`
	Rating      int64        `json:"rating"` // 0 = unrated
	Deadline    time.Time    `json:"deadline"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Receipt is the write-once artifact issued to the buyer when a payment is
// released. It is never updated after creation.
type Receipt struct {
	gorm.Model `json:"-"`
	ReceiptID  string    `gorm:"uniqueIndex" json:"receipt_id"`
	OrderID    string    `gorm:"index" json:"order_id"`
	BuyerID    string    `json:"buyer_id"`
	SupplierID string    `json:"supplier_id"`
	Amount     int64     `json:"amount"`
	Product    string    `json:"product"`
	Quantity   int64     `json:"quantity"`
	Memo       string    `json:"memo"`
	IssuedAt   time.Time `json:"issued_at"`
}

// EscrowEvent is an append-only audit row recorded for every transition.
type EscrowEvent struct {
	gorm.Model `json:"-"`
	EventID    string    `gorm:"uniqueIndex" json:"event_id"`
	OrderID    string    `gorm:"index" json:"order_id"`
	Type       string    `json:"type"`
	Actor      string    `json:"actor"`
	Amount     int64     `json:"amount,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Event types recorded per transition.
const (
	EventCreated          = "escrow.created"
	EventAccepted         = "escrow.accepted"
	EventFulfilled        = "escrow.fulfilled"
	EventDisputed         = "escrow.disputed"
	EventResolved         = "escrow.resolved"
	EventReleased         = "escrow.released"
	EventFunded           = "escrow.funded"
	EventCancelled        = "escrow.cancelled"
	EventRefunded         = "escrow.refunded"
	EventRated            = "escrow.rated"
	EventUpdated          = "escrow.updated"
	EventDeadlineExtended = "escrow.deadline_extended"
	EventExpired          = "escrow.expired"
)

type IdempotencyRecord struct {
	gorm.Model
	IdempotencyKey string    `gorm:"uniqueIndex" json:"idempotency_key"`
	ResourceID     string    `json:"resource_id"`
	ResourceType   string    `json:"resource_type"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Status labels. Decorative: transitions never branch on them, they exist so
// listings and dashboards have something human-readable to show.
const (
	StatusOpen      = "OPEN"
	StatusAssigned  = "ASSIGNED"
	StatusFulfilled = "FULFILLED"
	StatusDisputed  = "DISPUTED"
	StatusSettled   = "SETTLED"
	StatusOverdue   = "OVERDUE"
)
