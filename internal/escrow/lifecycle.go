package escrow

import "time"

// Payout describes a single escrow drain: the full balance at drain time, paid
// to one recipient. A zero-amount payout means the transition completed
// without moving funds.
type Payout struct {
	To     string
	Amount int64
}

// The transition functions below are the whole state machine. They mutate the
// order in memory only after every precondition has passed, so a returned
// error always leaves the order untouched. Persistence and ledger movement
// happen in the service layer, inside one transaction per call.

// NewOrder allocates an order owned by the caller as buyer with an empty
// escrow and no supplier. The deadline is fixed at creation time plus the
// requested duration.
func NewOrder(buyerID, product, description string, quantity, price int64, duration time.Duration, status string, now time.Time) *Order {
	return &Order{
		BuyerID:     buyerID,
		Product:     product,
		Description: description,
		Quantity:    quantity,
		Price:       price,
		Escrow:      0,
		Status:      status,
		Deadline:    now.Add(duration),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Accept assigns the caller as the order's supplier.
func (o *Order) Accept(caller string) error {
	if o.Supplier.IsAssigned() {
		return ErrAlreadyAssigned
	}
	o.Supplier = Counterparty{ID: caller, Assigned: true}
	o.Status = StatusAssigned
	return nil
}

// Fulfill marks the work done. Only the assigned supplier may call it, and
// only strictly before the deadline; the window between fulfillment and the
// deadline is the buyer's opportunity to dispute before funds can move.
func (o *Order) Fulfill(caller string, now time.Time) error {
	if !o.Supplier.Is(caller) {
		return ErrNotSupplier
	}
	if o.Fulfilled {
		return ErrAlreadyFulfilled
	}
	if !now.Before(o.Deadline) {
		return ErrDeadlineExceeded
	}
	o.Fulfilled = true
	o.Status = StatusFulfilled
	return nil
}

// Dispute halts normal settlement until the buyer resolves it.
func (o *Order) Dispute(caller string) error {
	if caller != o.BuyerID {
		return ErrNotBuyer
	}
	if o.Disputed {
		return ErrAlreadyDisputed
	}
	o.Disputed = true
	o.Status = StatusDisputed
	return nil
}

// Resolve drains the entire escrow to the supplier or back to the buyer and
// resets the cycle. The buyer holds unilateral resolution authority; there is
// no third-party adjudicator.
func (o *Order) Resolve(caller string, favorSupplier bool) (Payout, error) {
	if caller != o.BuyerID {
		return Payout{}, ErrNotBuyer
	}
	if !o.Disputed {
		return Payout{}, ErrNoActiveDispute
	}
	if !o.Supplier.IsAssigned() {
		return Payout{}, ErrNoSupplierAssigned
	}
	recipient := o.BuyerID
	if favorSupplier {
		recipient = o.Supplier.ID
	}
	payout := o.drain(recipient)
	o.resetCycle()
	return payout, nil
}

// ReleasePayment pays the full escrow to the supplier and resets the cycle.
// It requires fulfillment and no open dispute, and may only run strictly
// after the deadline; together with Fulfill's strictly-before check this
// leaves the deadline itself as a boundary satisfying neither side.
func (o *Order) ReleasePayment(caller string, now time.Time) (Payout, error) {
	if caller != o.BuyerID {
		return Payout{}, ErrNotBuyer
	}
	if !o.Fulfilled || o.Disputed {
		return Payout{}, ErrNotReadyForPayment
	}
	if !now.After(o.Deadline) {
		return Payout{}, ErrDeadlineNotReached
	}
	if !o.Supplier.IsAssigned() {
		return Payout{}, ErrNoSupplierAssigned
	}
	if o.Escrow <= 0 {
		return Payout{}, ErrEmptyEscrow
	}
	payout := o.drain(o.Supplier.ID)
	o.resetCycle()
	return payout, nil
}

// AddFunds appends to the escrow balance. The matching debit against the
// buyer's account is the service layer's job.
func (o *Order) AddFunds(caller string, amount int64) error {
	if caller != o.BuyerID {
		return ErrNotBuyer
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}
	o.Escrow += amount
	return nil
}

// Cancel resets the cycle. The escrow is refunded to the buyer only when a
// supplier is assigned and the order is neither fulfilled nor disputed;
// otherwise the balance stays on the record and the flags are cleared.
func (o *Order) Cancel(caller string) (Payout, error) {
	if caller != o.BuyerID && !o.Supplier.Is(caller) {
		return Payout{}, ErrNotParty
	}
	var payout Payout
	if o.Supplier.IsAssigned() && !o.Fulfilled && !o.Disputed {
		payout = o.drain(o.BuyerID)
	}
	o.resetCycle()
	return payout, nil
}

// RequestRefund returns the full escrow to the buyer, available only before
// fulfillment and outside a dispute.
func (o *Order) RequestRefund(caller string) (Payout, error) {
	if caller != o.BuyerID {
		return Payout{}, ErrNotBuyer
	}
	if o.Fulfilled || o.Disputed {
		return Payout{}, ErrInvalidWithdrawalState
	}
	payout := o.drain(o.BuyerID)
	o.resetCycle()
	return payout, nil
}

// Rate records buyer feedback after fulfillment. No escrow effect.
func (o *Order) Rate(caller string, rating int64) error {
	if caller != o.BuyerID {
		return ErrNotBuyer
	}
	if !o.Fulfilled {
		return ErrNotFulfilled
	}
	o.Rating = rating
	return nil
}

// ExtendDeadline pushes the deadline out by the given duration. Supplier
// only, no upper bound.
func (o *Order) ExtendDeadline(caller string, additional time.Duration) error {
	if !o.Supplier.Is(caller) {
		return ErrNotSupplier
	}
	o.Deadline = o.Deadline.Add(additional)
	return nil
}

// UpdateProduct, UpdateDescription, UpdateQuantity, UpdatePrice,
// UpdateStatus and UpdateDeadline are buyer-only field mutations with no
// state-machine effect.

func (o *Order) UpdateProduct(caller, product string) error {
	if caller != o.BuyerID {
		return ErrNotBuyer
	}
	o.Product = product
	return nil
}

func (o *Order) UpdateDescription(caller, description string) error {
	if caller != o.BuyerID {
		return ErrNotBuyer
	}
	o.Description = description
	return nil
}

func (o *Order) UpdateQuantity(caller string, quantity int64) error {
	if caller != o.BuyerID {
		return ErrNotBuyer
	}
	o.Quantity = quantity
	return nil
}

func (o *Order) UpdatePrice(caller string, price int64) error {
	if caller != o.BuyerID {
		return ErrNotBuyer
	}
	o.Price = price
	return nil
}

func (o *Order) UpdateStatus(caller, status string) error {
	if caller != o.BuyerID {
		return ErrNotBuyer
	}
	o.Status = status
	return nil
}

func (o *Order) UpdateDeadline(caller string, deadline time.Time) error {
	if caller != o.BuyerID {
		return ErrNotBuyer
	}
	o.Deadline = deadline
	return nil
}

// UpdateProvider seeds the counterparty on an unassigned record, for
// direct-award flows where the buyer nominates the supplier up front.
// Reassignment while a supplier holds the order is rejected.
func (o *Order) UpdateProvider(caller, providerID string) error {
	if caller != o.BuyerID {
		return ErrNotBuyer
	}
	if o.Supplier.IsAssigned() {
		return ErrSupplierAssigned
	}
	o.Supplier = Counterparty{ID: providerID, Assigned: true}
	o.Status = StatusAssigned
	return nil
}

// drain zeroes the escrow and returns the payout owed to the recipient.
// Reading and zeroing in one step, inside the caller's transaction, is what
// rules out a double drain.
func (o *Order) drain(recipient string) Payout {
	amount := o.Escrow
	o.Escrow = 0
	return Payout{To: recipient, Amount: amount}
}

// resetCycle returns the record to its unassigned shape. The record persists
// and can host a new cycle; the rating is cleared so a recycled record does
// not inherit feedback from an earlier cycle.
func (o *Order) resetCycle() {
	o.Supplier = Counterparty{}
	o.Fulfilled = false
	o.Disputed = false
	o.Rating = 0
	o.Status = StatusSettled
}
