// Package wire defines the IVXP/1.0 message formats. Keys are snake_case on
// the wire; the rest of the runtime works only with the domain types in the
// root package and converts at this boundary.
package wire

import (
	"time"

	ivxp "github.com/ivxp/ivxp-go"
)

// Envelope carries the fields present on every IVXP message.
type Envelope struct {
	Protocol    string `json:"protocol"`
	MessageType string `json:"message_type"`
	Timestamp   string `json:"timestamp"`
}

// NewEnvelope stamps an envelope with the current time.
func NewEnvelope(messageType string) Envelope {
	return Envelope{
		Protocol:    ivxp.ProtocolVersion,
		MessageType: messageType,
		Timestamp:   ivxp.Timestamp(time.Now()),
	}
}

// CatalogService is one advertised service in the catalog.
type CatalogService struct {
	Type                   string  `json:"type"`
	Description            string  `json:"description,omitempty"`
	BasePriceUSDC          float64 `json:"base_price_usdc"`
	EstimatedDeliveryHours float64 `json:"estimated_delivery_hours"`
}

// ServiceCatalog is the response to GET /ivxp/catalog.
type ServiceCatalog struct {
	Envelope
	Provider      string           `json:"provider"`
	WalletAddress string           `json:"wallet_address"`
	Services      []CatalogService `json:"services"`
}

// ClientAgent identifies the requesting agent.
type ClientAgent struct {
	Name            string `json:"name"`
	WalletAddress   string `json:"wallet_address"`
	ContactEndpoint string `json:"contact_endpoint,omitempty"`
}

// ServiceRequestBody is the service_request sub-object.
type ServiceRequestBody struct {
	Type           string  `json:"type"`
	Description    string  `json:"description"`
	BudgetUSDC     float64 `json:"budget_usdc"`
	DeliveryFormat string  `json:"delivery_format,omitempty"`
	Deadline       string  `json:"deadline,omitempty"`
}

// ServiceRequest is the body of POST /ivxp/request.
type ServiceRequest struct {
	Envelope
	ClientAgent    ClientAgent        `json:"client_agent"`
	ServiceRequest ServiceRequestBody `json:"service_request"`
}

// ProviderAgent identifies the provider in a quote.
type ProviderAgent struct {
	Name          string `json:"name"`
	WalletAddress string `json:"wallet_address"`
}

// QuoteBody is the quote sub-object of a ServiceQuote.
type QuoteBody struct {
	PriceUSDC         string `json:"price_usdc"`
	EstimatedDelivery string `json:"estimated_delivery"`
	PaymentAddress    string `json:"payment_address"`
	Network           string `json:"network"`
}

// ServiceQuote is the response to POST /ivxp/request.
type ServiceQuote struct {
	Envelope
	OrderID       string        `json:"order_id"`
	ProviderAgent ProviderAgent `json:"provider_agent"`
	Quote         QuoteBody     `json:"quote"`
}

// PaymentProof carries the on-chain evidence inside a DeliveryRequest.
type PaymentProof struct {
	TxHash      string `json:"tx_hash"`
	FromAddress string `json:"from_address"`
	Network     string `json:"network"`
}

// DeliveryRequest is the body of the payment endpoints.
type DeliveryRequest struct {
	Envelope
	OrderID          string       `json:"order_id"`
	PaymentProof     PaymentProof `json:"payment_proof"`
	Signature        string       `json:"signature"`
	SignedMessage    string       `json:"signed_message"`
	DeliveryEndpoint string       `json:"delivery_endpoint,omitempty"`
}

// DeliveryAccepted acknowledges an accepted payment.
type DeliveryAccepted struct {
	Envelope
	OrderID   string `json:"order_id"`
	Status    string `json:"status"`
	Message   string `json:"message"`
	StreamURL string `json:"stream_url,omitempty"`
}

// OrderStatus is the response of the status endpoints.
type OrderStatus struct {
	Envelope
	OrderID     string `json:"order_id"`
	Status      string `json:"status"`
	Service     string `json:"service"`
	CreatedAt   string `json:"created_at"`
	ContentHash string `json:"content_hash,omitempty"`
}

// DeliveryResponse carries the deliverable, on both the pull endpoint and
// push callbacks. Binary content travels base64-encoded with an explicit
// content_encoding marker.
type DeliveryResponse struct {
	Envelope
	OrderID         string `json:"order_id"`
	Content         string `json:"content"`
	ContentType     string `json:"content_type"`
	ContentHash     string `json:"content_hash"`
	ContentEncoding string `json:"content_encoding,omitempty"`
	FileName        string `json:"file_name,omitempty"`
}

// ConfirmationBody is the confirmation sub-object of a DeliveryConfirmation.
type ConfirmationBody struct {
	Message   string `json:"message"`
	Signature string `json:"signature"`
	Signer    string `json:"signer"`
}

// DeliveryConfirmation is the body of POST /ivxp/orders/{id}/confirm.
type DeliveryConfirmation struct {
	Envelope
	OrderID      string           `json:"order_id"`
	Confirmation ConfirmationBody `json:"confirmation"`
}

// ConfirmationResponse acknowledges a confirmed order.
type ConfirmationResponse struct {
	Envelope
	Status      string `json:"status"`
	ConfirmedAt string `json:"confirmed_at"`
}

// ErrorResponse is the sanitized error body the provider returns. Internal
// details never cross this boundary.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// SSE event names emitted by the provider status stream.
const (
	SSEEventStatusUpdate = "status_update"
	SSEEventProgress     = "progress"
	SSEEventCompleted    = "completed"
	SSEEventFailed       = "failed"
)

// StreamStatus is the payload of status stream events.
type StreamStatus struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}
