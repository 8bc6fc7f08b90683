package escrow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestOrder() *Order {
	o := NewOrder("buyer-1", "steel-coils", "hot rolled", 10, 100, time.Second, StatusOpen, testStart)
	o.OrderID = "ORD_test"
	return o
}

func assignedOrder(t *testing.T) *Order {
	t.Helper()
	o := newTestOrder()
	require.NoError(t, o.Accept("supplier-1"))
	return o
}

func TestNewOrderShape(t *testing.T) {
	o := newTestOrder()

	assert.Equal(t, "buyer-1", o.BuyerID)
	assert.False(t, o.Supplier.IsAssigned())
	assert.Equal(t, int64(0), o.Escrow)
	assert.Equal(t, testStart.Add(time.Second), o.Deadline)
	assert.False(t, o.Fulfilled)
	assert.False(t, o.Disputed)
}

func TestAccept(t *testing.T) {
	o := newTestOrder()

	require.NoError(t, o.Accept("supplier-1"))
	assert.True(t, o.Supplier.Is("supplier-1"))

	// A second supplier cannot race an assigned order
	err := o.Accept("supplier-2")
	assert.ErrorIs(t, err, ErrAlreadyAssigned)
	assert.True(t, o.Supplier.Is("supplier-1"))
}

func TestFulfillGuards(t *testing.T) {
	o := assignedOrder(t)

	err := o.Fulfill("someone-else", testStart)
	assert.ErrorIs(t, err, ErrNotSupplier)

	// Strictly before the deadline: the deadline itself is too late
	err = o.Fulfill("supplier-1", o.Deadline)
	assert.ErrorIs(t, err, ErrDeadlineExceeded)
	err = o.Fulfill("supplier-1", o.Deadline.Add(time.Minute))
	assert.ErrorIs(t, err, ErrDeadlineExceeded)

	require.NoError(t, o.Fulfill("supplier-1", testStart.Add(100*time.Millisecond)))
	assert.True(t, o.Fulfilled)

	err = o.Fulfill("supplier-1", testStart.Add(200*time.Millisecond))
	assert.ErrorIs(t, err, ErrAlreadyFulfilled)
}

func TestDisputeGuards(t *testing.T) {
	o := assignedOrder(t)

	err := o.Dispute("supplier-1")
	assert.ErrorIs(t, err, ErrNotBuyer)

	require.NoError(t, o.Dispute("buyer-1"))
	assert.True(t, o.Disputed)

	err = o.Dispute("buyer-1")
	assert.ErrorIs(t, err, ErrAlreadyDisputed)
}

func TestResolveGuards(t *testing.T) {
	o := assignedOrder(t)
	require.NoError(t, o.AddFunds("buyer-1", 50))

	_, err := o.Resolve("buyer-1", true)
	assert.ErrorIs(t, err, ErrNoActiveDispute)

	require.NoError(t, o.Dispute("buyer-1"))

	_, err = o.Resolve("supplier-1", true)
	assert.ErrorIs(t, err, ErrNotBuyer)

	// Rejected calls leave the order untouched
	assert.Equal(t, int64(50), o.Escrow)
	assert.True(t, o.Disputed)
}

func TestResolveFavorSupplier(t *testing.T) {
	o := assignedOrder(t)
	require.NoError(t, o.AddFunds("buyer-1", 75))
	require.NoError(t, o.Dispute("buyer-1"))

	payout, err := o.Resolve("buyer-1", true)
	require.NoError(t, err)

	assert.Equal(t, Payout{To: "supplier-1", Amount: 75}, payout)
	assert.Equal(t, int64(0), o.Escrow)
	assert.False(t, o.Supplier.IsAssigned())
	assert.False(t, o.Disputed)
	assert.False(t, o.Fulfilled)
}

func TestResolveFavorBuyer(t *testing.T) {
	o := assignedOrder(t)
	require.NoError(t, o.AddFunds("buyer-1", 75))
	require.NoError(t, o.Dispute("buyer-1"))

	payout, err := o.Resolve("buyer-1", false)
	require.NoError(t, err)

	assert.Equal(t, Payout{To: "buyer-1", Amount: 75}, payout)
	assert.Equal(t, int64(0), o.Escrow)
}

func TestResolveWithoutSupplier(t *testing.T) {
	o := newTestOrder()
	require.NoError(t, o.Dispute("buyer-1"))

	_, err := o.Resolve("buyer-1", true)
	assert.ErrorIs(t, err, ErrNoSupplierAssigned)
}

// TestDisputeDoesNotBlockFulfill pins the observed behaviour: the dispute
// flag gates settlement, not fulfillment.
func TestDisputeDoesNotBlockFulfill(t *testing.T) {
	o := assignedOrder(t)
	require.NoError(t, o.Dispute("buyer-1"))

	require.NoError(t, o.Fulfill("supplier-1", testStart.Add(100*time.Millisecond)))
	assert.True(t, o.Fulfilled)
}

func TestReleasePaymentScenario(t *testing.T) {
	// create(price=100, duration=1s); accept; add_funds(50); fulfill before
	// the deadline; release before the deadline fails; release after pays 50
	o := assignedOrder(t)
	require.NoError(t, o.AddFunds("buyer-1", 50))
	require.NoError(t, o.Fulfill("supplier-1", testStart.Add(500*time.Millisecond)))

	_, err := o.ReleasePayment("buyer-1", testStart.Add(800*time.Millisecond))
	assert.ErrorIs(t, err, ErrDeadlineNotReached)
	assert.Equal(t, KindTemporal, KindOf(err))

	// The deadline itself satisfies neither comparison
	_, err = o.ReleasePayment("buyer-1", o.Deadline)
	assert.ErrorIs(t, err, ErrDeadlineNotReached)

	payout, err := o.ReleasePayment("buyer-1", o.Deadline.Add(time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, Payout{To: "supplier-1", Amount: 50}, payout)
	assert.Equal(t, int64(0), o.Escrow)
	assert.False(t, o.Supplier.IsAssigned())
	assert.False(t, o.Fulfilled)
}

func TestReleasePaymentGuards(t *testing.T) {
	after := testStart.Add(2 * time.Second)

	o := assignedOrder(t)
	require.NoError(t, o.AddFunds("buyer-1", 50))

	_, err := o.ReleasePayment("supplier-1", after)
	assert.ErrorIs(t, err, ErrNotBuyer)

	// Unfulfilled
	_, err = o.ReleasePayment("buyer-1", after)
	assert.ErrorIs(t, err, ErrNotReadyForPayment)

	require.NoError(t, o.Fulfill("supplier-1", testStart.Add(100*time.Millisecond)))
	require.NoError(t, o.Dispute("buyer-1"))

	// Disputed
	_, err = o.ReleasePayment("buyer-1", after)
	assert.ErrorIs(t, err, ErrNotReadyForPayment)
}

func TestReleasePaymentEmptyEscrow(t *testing.T) {
	o := assignedOrder(t)
	require.NoError(t, o.Fulfill("supplier-1", testStart.Add(100*time.Millisecond)))

	_, err := o.ReleasePayment("buyer-1", testStart.Add(2*time.Second))
	assert.ErrorIs(t, err, ErrEmptyEscrow)
	assert.Equal(t, KindInsufficientFunds, KindOf(err))
}

// TestNoDoubleDrain checks the mutual exclusion of the draining transitions:
// once one of them empties the escrow and resets the cycle, a repeat release
// is rejected as a state conflict.
func TestNoDoubleDrain(t *testing.T) {
	o := assignedOrder(t)
	require.NoError(t, o.AddFunds("buyer-1", 50))
	require.NoError(t, o.Fulfill("supplier-1", testStart.Add(100*time.Millisecond)))

	after := testStart.Add(2 * time.Second)
	payout, err := o.ReleasePayment("buyer-1", after)
	require.NoError(t, err)
	require.Equal(t, int64(50), payout.Amount)

	_, err = o.ReleasePayment("buyer-1", after)
	assert.ErrorIs(t, err, ErrNotReadyForPayment)
	assert.Equal(t, KindStateConflict, KindOf(err))

	_, err = o.Resolve("buyer-1", true)
	assert.ErrorIs(t, err, ErrNoActiveDispute)
}

func TestAddFundsGuards(t *testing.T) {
	o := newTestOrder()

	err := o.AddFunds("supplier-1", 10)
	assert.ErrorIs(t, err, ErrNotBuyer)

	err = o.AddFunds("buyer-1", 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	require.NoError(t, o.AddFunds("buyer-1", 10))
	require.NoError(t, o.AddFunds("buyer-1", 15))
	assert.Equal(t, int64(25), o.Escrow)
}

// TestEscrowAccounting checks the balance property: escrow equals deposits
// minus drains, and a drain takes everything.
func TestEscrowAccounting(t *testing.T) {
	o := assignedOrder(t)
	deposits := []int64{10, 25, 5, 60}
	var sum int64
	for _, amount := range deposits {
		require.NoError(t, o.AddFunds("buyer-1", amount))
		sum += amount
	}
	assert.Equal(t, sum, o.Escrow)

	payout, err := o.Cancel("buyer-1")
	require.NoError(t, err)
	assert.Equal(t, sum, payout.Amount)
	assert.Equal(t, int64(0), o.Escrow)
}

func TestCancelUnassigned(t *testing.T) {
	o := newTestOrder()
	require.NoError(t, o.AddFunds("buyer-1", 40))

	// No supplier: nothing to unwind, escrow stays on the record
	payout, err := o.Cancel("buyer-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), payout.Amount)
	assert.Equal(t, int64(40), o.Escrow)
	assert.False(t, o.Supplier.IsAssigned())
}

func TestCancelByEitherParty(t *testing.T) {
	o := assignedOrder(t)
	require.NoError(t, o.AddFunds("buyer-1", 40))

	_, err := o.Cancel("stranger")
	assert.ErrorIs(t, err, ErrNotParty)

	payout, err := o.Cancel("supplier-1")
	require.NoError(t, err)
	assert.Equal(t, Payout{To: "buyer-1", Amount: 40}, payout)
}

func TestCancelDisputedKeepsEscrow(t *testing.T) {
	o := assignedOrder(t)
	require.NoError(t, o.AddFunds("buyer-1", 40))
	require.NoError(t, o.Dispute("buyer-1"))

	payout, err := o.Cancel("buyer-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), payout.Amount)
	assert.Equal(t, int64(40), o.Escrow)
	assert.False(t, o.Disputed)
}

// TestRefundRoundTrip checks that add_funds(x) followed by a refund returns
// exactly x and zeroes the escrow.
func TestRefundRoundTrip(t *testing.T) {
	o := assignedOrder(t)
	require.NoError(t, o.AddFunds("buyer-1", 123))

	payout, err := o.RequestRefund("buyer-1")
	require.NoError(t, err)
	assert.Equal(t, Payout{To: "buyer-1", Amount: 123}, payout)
	assert.Equal(t, int64(0), o.Escrow)
}

func TestRefundGuards(t *testing.T) {
	o := assignedOrder(t)
	require.NoError(t, o.AddFunds("buyer-1", 20))

	_, err := o.RequestRefund("supplier-1")
	assert.ErrorIs(t, err, ErrNotBuyer)

	require.NoError(t, o.Fulfill("supplier-1", testStart.Add(100*time.Millisecond)))
	_, err = o.RequestRefund("buyer-1")
	assert.ErrorIs(t, err, ErrInvalidWithdrawalState)

	o2 := assignedOrder(t)
	require.NoError(t, o2.AddFunds("buyer-1", 20))
	require.NoError(t, o2.Dispute("buyer-1"))
	_, err = o2.RequestRefund("buyer-1")
	assert.ErrorIs(t, err, ErrInvalidWithdrawalState)
}

func TestRate(t *testing.T) {
	o := assignedOrder(t)

	err := o.Rate("buyer-1", 5)
	assert.ErrorIs(t, err, ErrNotFulfilled)

	require.NoError(t, o.Fulfill("supplier-1", testStart.Add(100*time.Millisecond)))

	err = o.Rate("supplier-1", 5)
	assert.ErrorIs(t, err, ErrNotBuyer)

	require.NoError(t, o.Rate("buyer-1", 4))
	assert.Equal(t, int64(4), o.Rating)
}

func TestRatingClearedOnReset(t *testing.T) {
	o := assignedOrder(t)
	require.NoError(t, o.AddFunds("buyer-1", 10))
	require.NoError(t, o.Fulfill("supplier-1", testStart.Add(100*time.Millisecond)))
	require.NoError(t, o.Rate("buyer-1", 5))

	_, err := o.ReleasePayment("buyer-1", testStart.Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(0), o.Rating)
}

func TestExtendDeadline(t *testing.T) {
	o := assignedOrder(t)
	deadline := o.Deadline

	err := o.ExtendDeadline("buyer-1", time.Minute)
	assert.ErrorIs(t, err, ErrNotSupplier)

	require.NoError(t, o.ExtendDeadline("supplier-1", time.Minute))
	assert.Equal(t, deadline.Add(time.Minute), o.Deadline)
}

func TestFieldUpdates(t *testing.T) {
	o := newTestOrder()

	assert.ErrorIs(t, o.UpdateProduct("supplier-1", "x"), ErrNotBuyer)
	assert.ErrorIs(t, o.UpdatePrice("supplier-1", 1), ErrNotBuyer)
	assert.ErrorIs(t, o.UpdateQuantity("supplier-1", 1), ErrNotBuyer)
	assert.ErrorIs(t, o.UpdateStatus("supplier-1", "x"), ErrNotBuyer)

	require.NoError(t, o.UpdateProduct("buyer-1", "copper-wire"))
	require.NoError(t, o.UpdateDescription("buyer-1", "annealed"))
	require.NoError(t, o.UpdateQuantity("buyer-1", 3))
	require.NoError(t, o.UpdatePrice("buyer-1", 250))
	require.NoError(t, o.UpdateStatus("buyer-1", "negotiating"))
	require.NoError(t, o.UpdateDeadline("buyer-1", testStart.Add(time.Hour)))

	assert.Equal(t, "copper-wire", o.Product)
	assert.Equal(t, int64(250), o.Price)
	assert.Equal(t, testStart.Add(time.Hour), o.Deadline)
}

func TestUpdateProvider(t *testing.T) {
	o := newTestOrder()

	require.NoError(t, o.UpdateProvider("buyer-1", "supplier-9"))
	assert.True(t, o.Supplier.Is("supplier-9"))

	// No mid-cycle reassignment
	err := o.UpdateProvider("buyer-1", "supplier-2")
	assert.ErrorIs(t, err, ErrSupplierAssigned)
}

func TestRecycledOrderHostsNewCycle(t *testing.T) {
	o := assignedOrder(t)
	require.NoError(t, o.AddFunds("buyer-1", 30))
	require.NoError(t, o.Fulfill("supplier-1", testStart.Add(100*time.Millisecond)))
	_, err := o.ReleasePayment("buyer-1", testStart.Add(2*time.Second))
	require.NoError(t, err)

	// The same record accepts a fresh supplier and fresh funds
	require.NoError(t, o.Accept("supplier-2"))
	require.NoError(t, o.AddFunds("buyer-1", 10))
	assert.Equal(t, int64(10), o.Escrow)
	assert.True(t, o.Supplier.Is("supplier-2"))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindAuthorization, KindOf(ErrNotBuyer))
	assert.Equal(t, KindStateConflict, KindOf(ErrAlreadyAssigned))
	assert.Equal(t, KindTemporal, KindOf(ErrDeadlineExceeded))
	assert.Equal(t, KindInsufficientFunds, KindOf(ErrEmptyEscrow))
	assert.Equal(t, Kind(0), KindOf(assert.AnError))
}
