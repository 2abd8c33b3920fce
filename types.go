package ivxp

import "time"

// OrderStatus is the provider-authoritative lifecycle state of an order.
type OrderStatus string

const (
	StatusQuoted         OrderStatus = "quoted"
	StatusPaid           OrderStatus = "paid"
	StatusProcessing     OrderStatus = "processing"
	StatusDelivered      OrderStatus = "delivered"
	StatusDeliveryFailed OrderStatus = "delivery_failed"
	StatusConfirmed      OrderStatus = "confirmed"
)

// statusTransitions is the order lifecycle DAG. Anything not listed here is
// an illegal transition and must be rejected without a state change.
var statusTransitions = map[OrderStatus][]OrderStatus{
	StatusQuoted:     {StatusPaid},
	StatusPaid:       {StatusProcessing},
	StatusProcessing: {StatusDelivered, StatusDeliveryFailed},
	StatusDelivered:  {StatusConfirmed},
}

// CanTransition reports whether from -> to is a legal single step.
func (from OrderStatus) CanTransition(to OrderStatus) bool {
	for _, next := range statusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Reachable reports whether to is reachable from this status in zero or more
// legal steps.
func (from OrderStatus) Reachable(to OrderStatus) bool {
	if from == to {
		return true
	}
	for _, next := range statusTransitions[from] {
		if next.Reachable(to) {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s OrderStatus) Terminal() bool {
	return len(statusTransitions[s]) == 0
}

// IsValidStatus reports whether s names a known lifecycle state.
func IsValidStatus(s OrderStatus) bool {
	switch s {
	case StatusQuoted, StatusPaid, StatusProcessing, StatusDelivered, StatusDeliveryFailed, StatusConfirmed:
		return true
	}
	return false
}

// Order is the provider-side record of a single service transaction. The
// client holds only a projection derived from replies and events.
type Order struct {
	OrderID        string      `json:"orderId"`
	ServiceType    string      `json:"serviceType"`
	Description    string      `json:"description,omitempty"`
	ClientAddress  string      `json:"clientAddress"`
	PaymentAddress string      `json:"paymentAddress"`
	PriceUSDC      string      `json:"priceUsdc"`
	Network        Network     `json:"network"`
	Status         OrderStatus `json:"status"`
	CreatedAt      time.Time   `json:"createdAt"`

	// Set at most once, when the order transitions to paid.
	TxHash string `json:"txHash,omitempty"`
	// Set when and only when a deliverable exists for the order.
	ContentHash string `json:"contentHash,omitempty"`
	// Push target requested by the client at payment time.
	DeliveryEndpoint string     `json:"deliveryEndpoint,omitempty"`
	ConfirmedAt      *time.Time `json:"confirmedAt,omitempty"`
}

// OrderPatch is a partial update applied through OrderStore.Update. Nil
// fields are left untouched.
type OrderPatch struct {
	Status           *OrderStatus
	TxHash           *string
	ContentHash      *string
	DeliveryEndpoint *string
	ConfirmedAt      *time.Time
}

// Deliverable is the produced output bound to an order. Immutable once stored.
type Deliverable struct {
	Content     []byte    `json:"content"`
	ContentType string    `json:"contentType"`
	ContentHash string    `json:"contentHash"`
	Binary      bool      `json:"binary"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Quote is the provider's priced response to a service request.
type Quote struct {
	OrderID           string    `json:"orderId"`
	PriceUSDC         string    `json:"priceUsdc"`
	PaymentAddress    string    `json:"paymentAddress"`
	Network           Network   `json:"network"`
	EstimatedDelivery time.Time `json:"estimatedDelivery"`
	ProviderAgent     string    `json:"providerAgent"`
	StreamURL         string    `json:"streamUrl,omitempty"`
}

// Service describes one advertised service in the provider catalog.
type Service struct {
	Type                   string  `json:"type"`
	Description            string  `json:"description,omitempty"`
	BasePriceUSDC          float64 `json:"basePriceUsdc"`
	EstimatedDeliveryHours float64 `json:"estimatedDeliveryHours"`
}

// HandlerResult is what a registered service handler produces for an order.
type HandlerResult struct {
	Content     []byte
	ContentType string
	Binary      bool
}
