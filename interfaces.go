package ivxp

import "context"

// CryptoService signs and verifies EIP-191 personal messages over a held key.
// Implementations must be deterministic for the same (key, message) pair.
type CryptoService interface {
	// Sign returns the 65-byte signature as 0x-prefixed hex.
	Sign(message string) (string, error)
	// Verify recovers the signer of message and compares it, case-insensitively,
	// against expectedAddress.
	Verify(message, signature, expectedAddress string) (bool, error)
	// Address returns the checksummed address derived from the held key.
	Address() string
}

// ExpectedTransfer is what an on-chain payment must match to be accepted.
type ExpectedTransfer struct {
	From   string
	To     string
	Amount string // fixed-point decimal, 6 fractional digits
}

// PaymentService moves and verifies USDC on the configured network.
type PaymentService interface {
	// Send transfers amountUSDC (6-decimal fixed point) to the given address
	// and returns the transaction hash once known.
	Send(ctx context.Context, to, amountUSDC string) (string, error)
	// VerifyTransfer checks that the transaction's USDC Transfer log matches
	// expected on all three fields. A mismatch is (false, nil); transport
	// problems surface as coded errors.
	VerifyTransfer(ctx context.Context, txHash string, expected ExpectedTransfer) (bool, error)
	// Balance returns the USDC balance of addr as a 6-decimal string.
	Balance(ctx context.Context, addr string) (string, error)
}

// OrderFilter narrows OrderStore.List results. Zero values match everything.
type OrderFilter struct {
	Status        OrderStatus
	ServiceType   string
	ClientAddress string
}

// OrderStore is keyed CRUD over orders. Implementations must serialize
// updates per order, reject illegal status transitions, and enforce global
// tx-hash uniqueness.
type OrderStore interface {
	Create(ctx context.Context, order Order) (Order, error)
	Get(ctx context.Context, orderID string) (*Order, error)
	Update(ctx context.Context, orderID string, patch OrderPatch) (Order, error)
	List(ctx context.Context, filter OrderFilter) ([]Order, error)
	Delete(ctx context.Context, orderID string) (bool, error)
}

// DeliverableStore is keyed, insert-only storage of deliverables by order id.
type DeliverableStore interface {
	// Set stores the deliverable. Overwriting an existing entry is a protocol
	// error (DELIVERABLE_ALREADY_EXISTS).
	Set(ctx context.Context, orderID string, d Deliverable) error
	Get(ctx context.Context, orderID string) (*Deliverable, error)
}

// ServiceHandler produces the deliverable for a paid order. A returned error
// moves the order to delivery_failed; it never crashes the provider.
type ServiceHandler func(ctx context.Context, order Order) (HandlerResult, error)
