package escrow

import "errors"

// Classified errors returned by engine operations. Every check runs before
// any mutation; on error the operation commits nothing. Callers classify
// with errors.Is.
var (
	// ErrInvalidConfiguration covers bad order parameters and disallowed
	// coin types or fiat codes at order creation.
	ErrInvalidConfiguration = errors.New("invalid order configuration")

	// ErrFillOutOfRange is returned when a fill amount violates the order's
	// min/max bounds or would exceed remaining capacity.
	ErrFillOutOfRange = errors.New("fill amount out of range")

	// ErrWrongRole is returned when the caller is not in the sender set the
	// operation requires (fiat sender for paid, coin sender for settled).
	ErrWrongRole = errors.New("caller not in required sender role")

	// ErrWrongState is returned when a handshake is not in the status the
	// operation requires (not requested / not paid / not settled / not
	// disputed).
	ErrWrongState = errors.New("handshake in wrong state")

	// ErrWindowExpired is returned when the payment window has passed.
	ErrWindowExpired = errors.New("payment window expired")

	// ErrWindowNotExpired is returned when expiry resolution is attempted
	// before the payment deadline.
	ErrWindowNotExpired = errors.New("payment window not expired")

	// ErrCannotDestroy is returned when an order still has pending fills.
	ErrCannotDestroy = errors.New("order has pending fills")

	// ErrNotAuthorized is returned when the caller lacks maker membership
	// or the admin capability the operation requires.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrKeyInUse is returned when a fill is requested under a handshake
	// key that already has an unresolved fill.
	ErrKeyInUse = errors.New("handshake key already in use")

	// ErrBadRecipient is returned when dispute resolution names a recipient
	// that is neither the fill's taker nor the maker account.
	ErrBadRecipient = errors.New("dispute recipient is not a party to the fill")

	// ErrNotFound is returned when the referenced order or handshake does
	// not exist.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientBalance is returned when a taker's ledger balance
	// cannot cover the coin escrow a buy fill requires.
	ErrInsufficientBalance = errors.New("insufficient balance")
)
