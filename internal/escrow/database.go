package escrow

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ksred/escrow-api/internal/ledger"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) GetOrder(orderID string) (*Order, error) {
	var order Order
	if err := d.db.Where("order_id = ?", orderID).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// GetIdempotencyRecord retrieves an idempotency record by key. A missing key
// returns a zero record whose expiry is already in the past.
func (d *Database) GetIdempotencyRecord(key string) (*IdempotencyRecord, error) {
	var record IdempotencyRecord
	if err := d.db.Where("idempotency_key = ?", key).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &record, nil
		}
		return nil, err
	}
	return &record, nil
}

// CreateOrderWithIdempotency creates the order, its idempotency record and
// the creation audit event in a single transaction.
func (d *Database) CreateOrderWithIdempotency(order *Order, idempotencyKey string, now time.Time) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(order).Error; err != nil {
			return err
		}

		record := IdempotencyRecord{
			IdempotencyKey: idempotencyKey,
			ResourceID:     order.OrderID,
			ResourceType:   "order",
			ExpiresAt:      now.Add(24 * time.Hour),
		}
		if err := tx.Create(&record).Error; err != nil {
			return err
		}

		return createEvent(tx, order.OrderID, EventCreated, order.BuyerID, 0, now)
	})
}

// Transition loads the order, applies fn, and persists the mutated order
// together with its audit event in one transaction. A failing fn rolls the
// whole call back.
func (d *Database) Transition(orderID, eventType, actor string, now time.Time, fn func(*Order) error) (*Order, error) {
	var order Order
	err := d.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("order_id = ?", orderID).First(&order).Error; err != nil {
			return err
		}
		if err := fn(&order); err != nil {
			return err
		}
		order.UpdatedAt = now
		if err := tx.Save(&order).Error; err != nil {
			return err
		}
		return createEvent(tx, order.OrderID, eventType, actor, 0, now)
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// Settle runs a draining transition: fn applies the lifecycle call and
// returns the payout plus an optional receipt. Crediting the recipient,
// saving the reset order, writing the receipt and the audit event all commit
// or roll back together, so the escrow can never be drained twice.
func (d *Database) Settle(orderID, eventType, actor string, now time.Time, fn func(*Order) (Payout, *Receipt, error)) (*Order, Payout, error) {
	var order Order
	var payout Payout
	err := d.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("order_id = ?", orderID).First(&order).Error; err != nil {
			return err
		}
		p, receipt, err := fn(&order)
		if err != nil {
			return err
		}
		payout = p
		if payout.Amount > 0 {
			if err := ledger.Credit(tx, payout.To, payout.Amount); err != nil {
				return err
			}
		}
		order.UpdatedAt = now
		if err := tx.Save(&order).Error; err != nil {
			return err
		}
		if receipt != nil {
			if err := tx.Create(receipt).Error; err != nil {
				return err
			}
		}
		return createEvent(tx, order.OrderID, eventType, actor, payout.Amount, now)
	})
	if err != nil {
		return nil, Payout{}, err
	}
	return &order, payout, nil
}

// FundOrder debits the buyer's account and credits the order escrow in one
// transaction, recording the idempotency key so a retried request does not
// double-deposit.
func (d *Database) FundOrder(orderID, caller string, amount int64, idempotencyKey string, now time.Time) (*Order, error) {
	var order Order
	err := d.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("order_id = ?", orderID).First(&order).Error; err != nil {
			return err
		}
		if err := order.AddFunds(caller, amount); err != nil {
			return err
		}
		if err := ledger.Debit(tx, caller, amount); err != nil {
			if errors.Is(err, ledger.ErrInsufficientBalance) {
				return ErrInsufficientFunds
			}
			return err
		}
		order.UpdatedAt = now
		if err := tx.Save(&order).Error; err != nil {
			return err
		}

		record := IdempotencyRecord{
			IdempotencyKey: idempotencyKey,
			ResourceID:     order.OrderID,
			ResourceType:   "funding",
			ExpiresAt:      now.Add(24 * time.Hour),
		}
		if err := tx.Create(&record).Error; err != nil {
			return err
		}

		return createEvent(tx, order.OrderID, EventFunded, caller, amount, now)
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (d *Database) GetReceipts(orderID string) ([]Receipt, error) {
	var receipts []Receipt
	if err := d.db.Where("order_id = ?", orderID).Order("issued_at").Find(&receipts).Error; err != nil {
		return nil, err
	}
	return receipts, nil
}

func (d *Database) GetEvents(orderID string) ([]EscrowEvent, error) {
	var events []EscrowEvent
	if err := d.db.Where("order_id = ?", orderID).Order("id").Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// GetOverdueOrders returns assigned, unfulfilled orders whose deadline has
// passed and which have not yet been stamped overdue.
func (d *Database) GetOverdueOrders(now time.Time) ([]Order, error) {
	var orders []Order
	err := d.db.
		Where("supplier_assigned = ?", true).
		Where("fulfilled = ?", false).
		Where("deadline < ?", now).
		Where("status <> ?", StatusOverdue).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func createEvent(tx *gorm.DB, orderID, eventType, actor string, amount int64, now time.Time) error {
	return tx.Create(&EscrowEvent{
		EventID:   "EVT_" + uuid.New().String(),
		OrderID:   orderID,
		Type:      eventType,
		Actor:     actor,
		Amount:    amount,
		CreatedAt: now,
	}).Error
}
