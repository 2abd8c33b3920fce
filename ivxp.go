// Package ivxp implements the IVXP/1.0 protocol runtime: a client SDK and a
// provider runtime for monetized service requests settled in USDC on an EVM L2.
package ivxp

import (
	"fmt"
	"strings"
	"time"
)

// ProtocolVersion is carried in every wire message.
const ProtocolVersion = "IVXP/1.0"

// Wire message types.
const (
	MessageTypeServiceCatalog       = "service_catalog"
	MessageTypeServiceRequest       = "service_request"
	MessageTypeServiceQuote         = "service_quote"
	MessageTypeDeliveryRequest      = "delivery_request"
	MessageTypeDeliveryAccepted     = "delivery_accepted"
	MessageTypeOrderStatus          = "order_status"
	MessageTypeDeliveryResponse     = "delivery_response"
	MessageTypeDeliveryConfirmation = "delivery_confirmation"
	MessageTypeConfirmationResponse = "confirmation_response"
)

// Network identifies the settlement chain for an order.
type Network string

const (
	NetworkBaseMainnet Network = "base-mainnet"
	NetworkBaseSepolia Network = "base-sepolia"
)

// IsValidNetwork reports whether n names a chain this runtime settles on.
func IsValidNetwork(n Network) bool {
	switch n {
	case NetworkBaseMainnet, NetworkBaseSepolia:
		return true
	}
	return false
}

// OrderIDPrefix prefixes every order identifier; the remainder is a UUID v4.
const OrderIDPrefix = "ivxp-"

// PaymentMessage builds the canonical EIP-191 payment message. The provider
// re-verifies this exact byte sequence, so the format must never drift.
func PaymentMessage(orderID, txHash, timestamp string) string {
	return fmt.Sprintf("Order: %s | Payment: %s | Timestamp: %s", orderID, txHash, timestamp)
}

// ConfirmationMessage builds the canonical delivery confirmation message.
func ConfirmationMessage(orderID, timestamp string) string {
	return fmt.Sprintf("Confirm delivery: %s | Timestamp: %s", orderID, timestamp)
}

// Timestamp formats t in the wire grammar: RFC 3339 with timezone offset.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// ParseTimestamp accepts the wire grammar YYYY-MM-DDThh:mm:ss[.fff](Z|±hh:mm).
// Both Z and explicit offsets are valid, with or without fractional seconds.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

// ParseConfirmationMessage splits a canonical confirmation message back into
// its order id and timestamp. Anything that drifts from the exact format
// ConfirmationMessage produces is rejected.
func ParseConfirmationMessage(message string) (orderID string, ts time.Time, err error) {
	rest, ok := strings.CutPrefix(message, "Confirm delivery: ")
	if !ok {
		return "", time.Time{}, fmt.Errorf("not a confirmation message")
	}
	orderID, stamp, ok := strings.Cut(rest, " | Timestamp: ")
	if !ok || orderID == "" {
		return "", time.Time{}, fmt.Errorf("confirmation message missing order id or timestamp")
	}
	ts, err = ParseTimestamp(stamp)
	if err != nil {
		return "", time.Time{}, err
	}
	return orderID, ts, nil
}

// MessageContainsOrderID reports whether a signed message is bound to the
// given order. Payment signatures are rejected unless the message embeds the
// order id, which prevents a signature minted for one order from authorizing
// another.
func MessageContainsOrderID(message, orderID string) bool {
	return orderID != "" && strings.Contains(message, orderID)
}
