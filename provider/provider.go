package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	ivxp "github.com/ivxp/ivxp-go"
	ivxphttp "github.com/ivxp/ivxp-go/http"
	evmmech "github.com/ivxp/ivxp-go/mechanisms/evm"
	evmsigner "github.com/ivxp/ivxp-go/signers/evm"
	"github.com/ivxp/ivxp-go/wire"
)

// Provider is the IVXP provider runtime. It owns the order lifecycle: quotes
// are created here, payments verified here, and deliverables produced by
// registered service handlers.
type Provider struct {
	config  Config
	crypto  ivxp.CryptoService
	payment ivxp.PaymentService
	orders  ivxp.OrderStore
	store   ivxp.DeliverableStore
	events  *ivxp.EventEmitter
	pusher  *ivxphttp.JSONClient
	streams *streamHub

	mu       sync.RWMutex
	services map[string]ivxp.Service
	handlers map[string]ivxp.ServiceHandler

	// usedTx maps case-folded tx hashes to the order that consumed them.
	// Checked before any on-chain lookup so replays fail fast.
	txMu   sync.Mutex
	usedTx map[string]string

	processing sync.WaitGroup
}

// ProviderOption configures the runtime.
type ProviderOption func(*Provider)

// WithCryptoService substitutes the EIP-191 signer.
func WithCryptoService(cs ivxp.CryptoService) ProviderOption {
	return func(p *Provider) { p.crypto = cs }
}

// WithPaymentService substitutes the USDC payment verifier.
func WithPaymentService(ps ivxp.PaymentService) ProviderOption {
	return func(p *Provider) { p.payment = ps }
}

// WithOrderStore substitutes order persistence.
func WithOrderStore(store ivxp.OrderStore) ProviderOption {
	return func(p *Provider) { p.orders = store }
}

// WithDeliverableStore substitutes deliverable persistence.
func WithDeliverableStore(store ivxp.DeliverableStore) ProviderOption {
	return func(p *Provider) { p.store = store }
}

// WithEvents substitutes the event emitter.
func WithEvents(events *ivxp.EventEmitter) ProviderOption {
	return func(p *Provider) { p.events = events }
}

// New creates a provider runtime. The crypto service defaults to an EIP-191
// signer over config.PrivateKey; the payment service defaults to a live
// connection to the network's public RPC endpoint unless injected.
func New(config Config, opts ...ProviderOption) (*Provider, error) {
	config = NewConfig(config)
	if !ivxp.IsValidNetwork(config.Network) {
		return nil, ivxp.NewError(ivxp.ErrCodeInvalidProviderConfig,
			fmt.Sprintf("unknown network %q", config.Network))
	}

	p := &Provider{
		config:   config,
		events:   ivxp.NewEventEmitter(),
		pusher:   ivxphttp.NewJSONClient(),
		streams:  newStreamHub(),
		services: make(map[string]ivxp.Service),
		handlers: make(map[string]ivxp.ServiceHandler),
		usedTx:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.crypto == nil {
		signer, err := evmsigner.NewSigner(config.PrivateKey)
		if err != nil {
			return nil, err
		}
		p.crypto = signer
	}
	if p.payment == nil {
		payment, err := evmmech.Dial(context.Background(), config.PrivateKey, config.Network)
		if err != nil {
			return nil, err
		}
		p.payment = payment
	}
	if p.orders == nil {
		p.orders = ivxp.NewMemoryOrderStore()
	}
	if p.store == nil {
		p.store = ivxp.NewMemoryDeliverableStore()
	}
	return p, nil
}

// Events exposes the provider's event bus.
func (p *Provider) Events() *ivxp.EventEmitter {
	return p.events
}

// Address returns the provider's payment address.
func (p *Provider) Address() string {
	return p.crypto.Address()
}

// RegisterService advertises a service and binds its handler. Registering an
// existing type replaces it.
func (p *Provider) RegisterService(service ivxp.Service, handler ivxp.ServiceHandler) error {
	if service.Type == "" {
		return ivxp.NewError(ivxp.ErrCodeInvalidRequestParams, "service type must not be empty")
	}
	if handler == nil {
		return ivxp.NewError(ivxp.ErrCodeInvalidRequestParams, "service handler must not be nil")
	}
	if service.BasePriceUSDC < 0 || service.BasePriceUSDC > 1_000_000 {
		return ivxp.NewError(ivxp.ErrCodeInvalidRequestParams,
			"base price must be between 0 and 1,000,000 USDC")
	}
	if service.EstimatedDeliveryHours <= 0 || service.EstimatedDeliveryHours > 8760 {
		return ivxp.NewError(ivxp.ErrCodeInvalidRequestParams,
			"estimated delivery must be between 0 and 8760 hours")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.services[service.Type] = service
	p.handlers[service.Type] = handler
	return nil
}

// Catalog builds the service catalog message.
func (p *Provider) Catalog() wire.ServiceCatalog {
	p.mu.RLock()
	defer p.mu.RUnlock()

	services := make([]wire.CatalogService, 0, len(p.services))
	for _, svc := range p.services {
		services = append(services, wire.CatalogService{
			Type:                   svc.Type,
			Description:            svc.Description,
			BasePriceUSDC:          svc.BasePriceUSDC,
			EstimatedDeliveryHours: svc.EstimatedDeliveryHours,
		})
	}
	return wire.ServiceCatalog{
		Envelope:      wire.NewEnvelope(ivxp.MessageTypeServiceCatalog),
		Provider:      p.config.ProviderName,
		WalletAddress: p.crypto.Address(),
		Services:      services,
	}
}

// Quote prices a service request and creates the order in quoted.
func (p *Provider) Quote(ctx context.Context, request wire.ServiceRequest) (*wire.ServiceQuote, error) {
	if !ivxp.IsValidAddress(request.ClientAgent.WalletAddress) {
		return nil, ivxp.NewError(ivxp.ErrCodeInvalidAddress,
			"client wallet address must be a 20-byte hex address")
	}

	p.mu.RLock()
	service, ok := p.services[request.ServiceRequest.Type]
	p.mu.RUnlock()
	if !ok {
		return nil, ivxp.NewError(ivxp.ErrCodeServiceNotFound,
			fmt.Sprintf("service %q is not offered", request.ServiceRequest.Type))
	}

	orderID := ivxp.OrderIDPrefix + uuid.NewString()
	price := ivxp.FormatUSDC(service.BasePriceUSDC)
	estimated := time.Now().Add(time.Duration(service.EstimatedDeliveryHours * float64(time.Hour)))

	order := ivxp.Order{
		OrderID:        orderID,
		ServiceType:    service.Type,
		Description:    request.ServiceRequest.Description,
		ClientAddress:  request.ClientAgent.WalletAddress,
		PaymentAddress: p.crypto.Address(),
		PriceUSDC:      price,
		Network:        p.config.Network,
		Status:         ivxp.StatusQuoted,
		CreatedAt:      time.Now().UTC(),
	}
	if _, err := p.orders.Create(ctx, order); err != nil {
		return nil, err
	}
	p.events.Emit(ivxp.EventOrderQuoted, order)

	return &wire.ServiceQuote{
		Envelope: wire.NewEnvelope(ivxp.MessageTypeServiceQuote),
		OrderID:  orderID,
		ProviderAgent: wire.ProviderAgent{
			Name:          p.config.ProviderName,
			WalletAddress: p.crypto.Address(),
		},
		Quote: wire.QuoteBody{
			PriceUSDC:         price,
			EstimatedDelivery: ivxp.Timestamp(estimated),
			PaymentAddress:    p.crypto.Address(),
			Network:           string(p.config.Network),
		},
	}, nil
}

// AcceptPayment runs the payment acceptance pipeline. Every check happens
// before any state change: a rejected payment leaves the order in quoted and
// the tx hash unclaimed.
func (p *Provider) AcceptPayment(ctx context.Context, orderID string, request wire.DeliveryRequest) (*wire.DeliveryAccepted, error) {
	if request.OrderID != "" && request.OrderID != orderID {
		return nil, ivxp.NewError(ivxp.ErrCodeOrderIDMismatch,
			"request body names a different order")
	}

	order, err := p.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ivxp.NewError(ivxp.ErrCodeOrderNotFound, fmt.Sprintf("order %s not found", orderID))
	}
	if order.Status != ivxp.StatusQuoted {
		return nil, ivxp.NewError(ivxp.ErrCodeInvalidOrderStatus,
			fmt.Sprintf("order is %s, payment requires quoted", order.Status))
	}

	proof := request.PaymentProof
	if !ivxp.IsValidTxHash(proof.TxHash) {
		return nil, ivxp.NewError(ivxp.ErrCodePaymentVerificationFailed, "malformed transaction hash")
	}
	if !ivxp.IsValidAddress(proof.FromAddress) {
		return nil, ivxp.NewError(ivxp.ErrCodeInvalidAddress, "malformed payer address")
	}
	if !ivxp.MessageContainsOrderID(request.SignedMessage, orderID) {
		return nil, ivxp.NewError(ivxp.ErrCodeInvalidSignedMessage,
			"signed message is not bound to this order")
	}
	if ivxp.Network(proof.Network) != order.Network {
		return nil, ivxp.NewError(ivxp.ErrCodeNetworkMismatch,
			fmt.Sprintf("payment network %s, order settles on %s", proof.Network, order.Network))
	}
	if request.DeliveryEndpoint != "" {
		if err := p.validateDeliveryURL(request.DeliveryEndpoint); err != nil {
			return nil, err
		}
	}

	txKey := strings.ToLower(proof.TxHash)
	p.txMu.Lock()
	if claimedBy, used := p.usedTx[txKey]; used {
		p.txMu.Unlock()
		return nil, ivxp.NewError(ivxp.ErrCodePaymentVerificationFailed,
			"transaction hash already used").WithDetail("orderId", claimedBy)
	}
	p.txMu.Unlock()

	verified, err := p.payment.VerifyTransfer(ctx, proof.TxHash, ivxp.ExpectedTransfer{
		From:   proof.FromAddress,
		To:     order.PaymentAddress,
		Amount: order.PriceUSDC,
	})
	if err != nil {
		return nil, err
	}
	if !verified {
		return nil, ivxp.NewError(ivxp.ErrCodePaymentVerificationFailed,
			"no matching USDC transfer found for this order")
	}

	// The signature must recover to the client recorded at quote time, not to
	// whichever wallet funded the transfer.
	valid, err := p.crypto.Verify(request.SignedMessage, request.Signature, order.ClientAddress)
	if err != nil {
		return nil, err
	}
	if !valid {
		return nil, ivxp.NewError(ivxp.ErrCodeSignatureVerificationFailed,
			"payment signature does not recover to the order's client")
	}

	// All checks passed; claim the tx hash and advance the order. The store
	// re-enforces uniqueness in case of a concurrent claim.
	p.txMu.Lock()
	if claimedBy, used := p.usedTx[txKey]; used {
		p.txMu.Unlock()
		return nil, ivxp.NewError(ivxp.ErrCodePaymentVerificationFailed,
			"transaction hash already used").WithDetail("orderId", claimedBy)
	}
	p.usedTx[txKey] = orderID
	p.txMu.Unlock()

	status := ivxp.StatusPaid
	patch := ivxp.OrderPatch{Status: &status, TxHash: &proof.TxHash}
	if request.DeliveryEndpoint != "" {
		patch.DeliveryEndpoint = &request.DeliveryEndpoint
	}
	updated, err := p.orders.Update(ctx, orderID, patch)
	if err != nil {
		p.txMu.Lock()
		delete(p.usedTx, txKey)
		p.txMu.Unlock()
		return nil, err
	}

	p.events.Emit(ivxp.EventPaymentConfirmed, updated)
	p.events.Emit(ivxp.EventOrderPaid, updated)
	p.startProcessing(orderID)

	return &wire.DeliveryAccepted{
		Envelope:  wire.NewEnvelope(ivxp.MessageTypeDeliveryAccepted),
		OrderID:   orderID,
		Status:    "accepted",
		Message:   "payment verified, processing started",
		StreamURL: p.streamURL(orderID),
	}, nil
}

// startProcessing runs the order's service handler asynchronously. Handler
// errors and panics move the order to delivery_failed, never down the server.
func (p *Provider) startProcessing(orderID string) {
	p.processing.Add(1)
	go func() {
		defer p.processing.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("ivxp: handler panic for order %s: %v", orderID, r)
				p.failOrder(orderID, fmt.Errorf("handler panic: %v", r))
			}
		}()
		p.processOrder(context.Background(), orderID)
	}()
}

func (p *Provider) processOrder(ctx context.Context, orderID string) {
	order, err := p.setStatus(ctx, orderID, ivxp.StatusProcessing)
	if err != nil {
		log.Printf("ivxp: order %s could not enter processing: %v", orderID, err)
		return
	}

	p.mu.RLock()
	handler := p.handlers[order.ServiceType]
	p.mu.RUnlock()
	if handler == nil {
		p.failOrder(orderID, fmt.Errorf("no handler for service %s", order.ServiceType))
		return
	}

	result, err := handler(ctx, *order)
	if err != nil {
		p.failOrder(orderID, err)
		return
	}

	deliverable := ivxp.Deliverable{
		Content:     result.Content,
		ContentType: result.ContentType,
		ContentHash: ivxp.HashBytes(result.Content),
		Binary:      result.Binary,
		CreatedAt:   time.Now().UTC(),
	}
	if err := p.store.Set(ctx, orderID, deliverable); err != nil {
		p.failOrder(orderID, err)
		return
	}
	if _, err := p.orders.Update(ctx, orderID, ivxp.OrderPatch{ContentHash: &deliverable.ContentHash}); err != nil {
		p.failOrder(orderID, err)
		return
	}

	// Push delivery failure still leaves the stored deliverable downloadable.
	if order.DeliveryEndpoint != "" {
		if err := p.pushDeliverable(ctx, orderID, deliverable, order.DeliveryEndpoint); err != nil {
			log.Printf("ivxp: push delivery for order %s failed: %v", orderID, err)
			p.failOrder(orderID, err)
			return
		}
	}

	if _, err := p.setStatus(ctx, orderID, ivxp.StatusDelivered); err != nil {
		log.Printf("ivxp: order %s could not enter delivered: %v", orderID, err)
		return
	}
	p.events.Emit(ivxp.EventOrderDelivered, orderID)
	p.streams.publish(orderID, wire.SSEEventCompleted, wire.StreamStatus{
		OrderID: orderID,
		Status:  string(ivxp.StatusDelivered),
	})
}

// setStatus advances the order and mirrors the change onto the event bus and
// the order's status stream.
func (p *Provider) setStatus(ctx context.Context, orderID string, status ivxp.OrderStatus) (*ivxp.Order, error) {
	updated, err := p.orders.Update(ctx, orderID, ivxp.OrderPatch{Status: &status})
	if err != nil {
		return nil, err
	}
	p.events.Emit(ivxp.EventOrderStatusChanged, updated)
	p.streams.publish(orderID, wire.SSEEventStatusUpdate, wire.StreamStatus{
		OrderID: orderID,
		Status:  string(status),
	})
	return &updated, nil
}

func (p *Provider) failOrder(orderID string, cause error) {
	ctx := context.Background()
	status := ivxp.StatusDeliveryFailed
	if _, err := p.orders.Update(ctx, orderID, ivxp.OrderPatch{Status: &status}); err != nil {
		log.Printf("ivxp: order %s could not enter delivery_failed: %v", orderID, err)
		return
	}
	p.events.Emit(ivxp.EventError, map[string]string{
		"orderId": orderID,
		"error":   cause.Error(),
	})
	p.streams.publish(orderID, wire.SSEEventFailed, wire.StreamStatus{
		OrderID: orderID,
		Status:  string(ivxp.StatusDeliveryFailed),
	})
}

// pushDeliverable posts the deliverable to the client's callback endpoint.
// Any non-2xx reply counts as failure.
func (p *Provider) pushDeliverable(ctx context.Context, orderID string, d ivxp.Deliverable, endpoint string) error {
	resp, err := p.pusher.Post(ctx, endpoint, deliveryResponse(orderID, d))
	if err != nil {
		return err
	}
	return ivxphttp.ClassifyStatus(resp)
}

// Status builds the order status message.
func (p *Provider) Status(ctx context.Context, orderID string) (*wire.OrderStatus, error) {
	order, err := p.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ivxp.NewError(ivxp.ErrCodeOrderNotFound, fmt.Sprintf("order %s not found", orderID))
	}
	return &wire.OrderStatus{
		Envelope:    wire.NewEnvelope(ivxp.MessageTypeOrderStatus),
		OrderID:     order.OrderID,
		Status:      string(order.Status),
		Service:     order.ServiceType,
		CreatedAt:   ivxp.Timestamp(order.CreatedAt),
		ContentHash: order.ContentHash,
	}, nil
}

// Deliverable builds the pull delivery message, or DELIVERABLE_NOT_READY when
// the order has produced nothing yet.
func (p *Provider) Deliverable(ctx context.Context, orderID string) (*wire.DeliveryResponse, error) {
	order, err := p.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ivxp.NewError(ivxp.ErrCodeOrderNotFound, fmt.Sprintf("order %s not found", orderID))
	}

	deliverable, err := p.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if deliverable == nil {
		return nil, ivxp.NewError(ivxp.ErrCodeDeliverableNotReady,
			fmt.Sprintf("order %s has no deliverable yet", orderID))
	}
	response := deliveryResponse(orderID, *deliverable)
	return &response, nil
}

// Confirm applies a signed delivery confirmation. Confirming an already
// confirmed order reports ORDER_ALREADY_CONFIRMED so clients can treat the
// retry as success.
func (p *Provider) Confirm(ctx context.Context, orderID string, request wire.DeliveryConfirmation) (*wire.ConfirmationResponse, error) {
	order, err := p.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ivxp.NewError(ivxp.ErrCodeOrderNotFound, fmt.Sprintf("order %s not found", orderID))
	}
	if order.Status == ivxp.StatusConfirmed {
		return nil, ivxp.NewError(ivxp.ErrCodeOrderAlreadyConfirmed,
			fmt.Sprintf("order %s is already confirmed", orderID))
	}
	if order.Status != ivxp.StatusDelivered {
		return nil, ivxp.NewError(ivxp.ErrCodeInvalidOrderStatus,
			fmt.Sprintf("order is %s, confirmation requires delivered", order.Status))
	}

	confirmation := request.Confirmation
	msgOrderID, _, err := ivxp.ParseConfirmationMessage(confirmation.Message)
	if err != nil || msgOrderID != orderID {
		return nil, ivxp.NewError(ivxp.ErrCodeInvalidSignedMessage,
			"confirmation message is not bound to this order")
	}
	valid, err := p.crypto.Verify(confirmation.Message, confirmation.Signature, order.ClientAddress)
	if err != nil {
		return nil, err
	}
	if !valid {
		return nil, ivxp.NewError(ivxp.ErrCodeSignatureVerificationFailed,
			"confirmation signature does not recover to the order's client")
	}

	now := time.Now().UTC()
	status := ivxp.StatusConfirmed
	updated, err := p.orders.Update(ctx, orderID, ivxp.OrderPatch{Status: &status, ConfirmedAt: &now})
	if err != nil {
		return nil, err
	}
	p.events.Emit(ivxp.EventOrderConfirmed, updated)

	return &wire.ConfirmationResponse{
		Envelope:    wire.NewEnvelope(ivxp.MessageTypeConfirmationResponse),
		Status:      "confirmed",
		ConfirmedAt: ivxp.Timestamp(now),
	}, nil
}

// streamURL builds the externally reachable status stream address.
func (p *Provider) streamURL(orderID string) string {
	base := p.config.BaseURL
	if base == "" {
		base = fmt.Sprintf("http://%s:%d", p.config.Host, p.config.Port)
	}
	return strings.TrimRight(base, "/") + "/ivxp/stream/" + orderID
}

// validateDeliveryURL rejects push endpoints that would make the provider
// call into itself or its network: non-HTTP schemes, localhost, loopback,
// private, link-local, and unspecified addresses.
func (p *Provider) validateDeliveryURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return ivxp.NewError(ivxp.ErrCodeInvalidDeliveryURL,
			"delivery endpoint must be an absolute http(s) URL")
	}
	if p.config.AllowPrivateDeliveryURLs {
		return nil
	}

	host := parsed.Hostname()
	if strings.EqualFold(host, "localhost") {
		return ivxp.NewError(ivxp.ErrCodeInvalidDeliveryURL, "delivery endpoint resolves to this host")
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			return ivxp.NewError(ivxp.ErrCodeInvalidDeliveryURL,
				"delivery endpoint targets a private address")
		}
		if ip4 := ip.To4(); ip4 != nil && ip4[0] == 0 {
			return ivxp.NewError(ivxp.ErrCodeInvalidDeliveryURL,
				"delivery endpoint targets a private address")
		}
	}
	return nil
}

// deliveryResponse converts a stored deliverable to its wire form. Binary
// content is base64-encoded with an explicit marker.
func deliveryResponse(orderID string, d ivxp.Deliverable) wire.DeliveryResponse {
	response := wire.DeliveryResponse{
		Envelope:    wire.NewEnvelope(ivxp.MessageTypeDeliveryResponse),
		OrderID:     orderID,
		ContentType: d.ContentType,
		ContentHash: d.ContentHash,
	}
	if d.Binary {
		response.Content = base64.StdEncoding.EncodeToString(d.Content)
		response.ContentEncoding = "base64"
	} else {
		response.Content = string(d.Content)
	}
	return response
}
