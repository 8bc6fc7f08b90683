package escrow

import "errors"

// Kind classifies why a transition was rejected. Every precondition failure
// carries exactly one kind so callers and tests can assert on the rejection
// reason.
type Kind int

const (
	KindAuthorization Kind = iota + 1
	KindStateConflict
	KindTemporal
	KindInsufficientFunds
)

// Error is a rejected transition. All transition errors are of this type;
// transport and storage failures are returned as-is.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

var (
	// Authorization
	ErrNotBuyer    = &Error{Kind: KindAuthorization, Code: "NOT_BUYER", Message: "caller is not the order buyer"}
	ErrNotSupplier = &Error{Kind: KindAuthorization, Code: "NOT_SUPPLIER", Message: "caller is not the assigned supplier"}
	ErrNotParty    = &Error{Kind: KindAuthorization, Code: "NOT_PARTY", Message: "caller is neither buyer nor assigned supplier"}

	// State conflicts
	ErrAlreadyAssigned        = &Error{Kind: KindStateConflict, Code: "ALREADY_ASSIGNED", Message: "order already has an assigned supplier"}
	ErrNoSupplierAssigned     = &Error{Kind: KindStateConflict, Code: "NO_SUPPLIER_ASSIGNED", Message: "order has no assigned supplier"}
	ErrAlreadyFulfilled       = &Error{Kind: KindStateConflict, Code: "ALREADY_FULFILLED", Message: "order is already marked fulfilled"}
	ErrAlreadyDisputed        = &Error{Kind: KindStateConflict, Code: "ALREADY_DISPUTED", Message: "order is already disputed"}
	ErrNoActiveDispute        = &Error{Kind: KindStateConflict, Code: "NO_ACTIVE_DISPUTE", Message: "order has no active dispute"}
	ErrNotReadyForPayment     = &Error{Kind: KindStateConflict, Code: "NOT_READY_FOR_PAYMENT", Message: "order must be fulfilled and undisputed before payment release"}
	ErrNotFulfilled           = &Error{Kind: KindStateConflict, Code: "NOT_FULFILLED", Message: "order has not been fulfilled"}
	ErrInvalidWithdrawalState = &Error{Kind: KindStateConflict, Code: "INVALID_WITHDRAWAL_STATE", Message: "refund is not available once the order is fulfilled or disputed"}
	ErrSupplierAssigned       = &Error{Kind: KindStateConflict, Code: "SUPPLIER_ASSIGNED", Message: "supplier cannot be replaced while the order is assigned"}

	// Temporal
	ErrDeadlineExceeded   = &Error{Kind: KindTemporal, Code: "DEADLINE_EXCEEDED", Message: "order deadline has passed"}
	ErrDeadlineNotReached = &Error{Kind: KindTemporal, Code: "DEADLINE_NOT_REACHED", Message: "order deadline has not yet passed"}

	// Funds
	ErrEmptyEscrow   = &Error{Kind: KindInsufficientFunds, Code: "EMPTY_ESCROW", Message: "escrow balance is empty"}
	ErrInvalidAmount = &Error{Kind: KindInsufficientFunds, Code: "INVALID_AMOUNT", Message: "amount must be positive"}
	// ErrInsufficientFunds is returned when the buyer's ledger account cannot
	// cover a deposit into escrow.
	ErrInsufficientFunds = &Error{Kind: KindInsufficientFunds, Code: "INSUFFICIENT_FUNDS", Message: "account balance cannot cover the requested amount"}
)

// KindOf returns the rejection kind of err, or zero if err is not a
// transition error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
