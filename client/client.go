// Package client implements the IVXP client SDK: quote, pay, wait, download,
// and confirm, as individual operations and as a one-call orchestrated flow.
package client

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	ivxp "github.com/ivxp/ivxp-go"
	ivxphttp "github.com/ivxp/ivxp-go/http"
	evmmech "github.com/ivxp/ivxp-go/mechanisms/evm"
	evmsigner "github.com/ivxp/ivxp-go/signers/evm"
	"github.com/ivxp/ivxp-go/wire"
)

// Step names used in timeout and provider error context.
const (
	StepQuote    = "quote"
	StepPayment  = "payment"
	StepWait     = "wait"
	StepDownload = "download"
	StepConfirm  = "confirm"
)

// Config is the client construction input.
type Config struct {
	PrivateKey string
	Network    ivxp.Network
	// AgentName identifies this client in service requests.
	AgentName string
}

// Client drives a provider through the IVXP/1.0 HTTP surface.
type Client struct {
	network   ivxp.Network
	agentName string
	crypto    ivxp.CryptoService
	payment   ivxp.PaymentService
	transport *ivxphttp.JSONClient
	events    *ivxp.EventEmitter
	callback  *CallbackServer
	poll      PollOptions
}

// Option configures the client.
type Option func(*Client)

// WithCryptoService substitutes the EIP-191 signer.
func WithCryptoService(cs ivxp.CryptoService) Option {
	return func(c *Client) { c.crypto = cs }
}

// WithPaymentService substitutes the USDC payment service.
func WithPaymentService(ps ivxp.PaymentService) Option {
	return func(c *Client) { c.payment = ps }
}

// WithTransport substitutes the JSON transport.
func WithTransport(t *ivxphttp.JSONClient) Option {
	return func(c *Client) { c.transport = t }
}

// WithEvents substitutes the event emitter.
func WithEvents(e *ivxp.EventEmitter) Option {
	return func(c *Client) { c.events = e }
}

// WithCallbackServer attaches a push-delivery receiver; RequestService will
// start it and hand its URL to the provider as the delivery endpoint.
func WithCallbackServer(s *CallbackServer) Option {
	return func(c *Client) { c.callback = s }
}

// WithPollOptions overrides the status polling schedule.
func WithPollOptions(opts PollOptions) Option {
	return func(c *Client) { c.poll = opts }
}

// New creates a client. The crypto service defaults to an EIP-191 signer
// over config.PrivateKey; the payment service defaults to a live connection
// to the network's public RPC endpoint unless injected.
func New(config Config, opts ...Option) (*Client, error) {
	if !ivxp.IsValidNetwork(config.Network) {
		return nil, ivxp.NewError(ivxp.ErrCodeInvalidRequestParams,
			fmt.Sprintf("unknown network %q", config.Network))
	}

	c := &Client{
		network:   config.Network,
		agentName: config.AgentName,
		events:    ivxp.NewEventEmitter(),
		poll:      DefaultPollOptions(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.crypto == nil {
		signer, err := evmsigner.NewSigner(config.PrivateKey)
		if err != nil {
			return nil, err
		}
		c.crypto = signer
	}
	if c.payment == nil {
		payment, err := evmmech.Dial(context.Background(), config.PrivateKey, config.Network)
		if err != nil {
			return nil, err
		}
		c.payment = payment
	}
	if c.transport == nil {
		c.transport = ivxphttp.NewJSONClient()
	}
	if c.agentName == "" {
		c.agentName = "IVXP Client"
	}
	return c, nil
}

// Events exposes the client's event bus for UI and inspection hooks.
func (c *Client) Events() *ivxp.EventEmitter {
	return c.events
}

// Address returns the client wallet address.
func (c *Client) Address() string {
	return c.crypto.Address()
}

// QuoteParams describes one service request.
type QuoteParams struct {
	ProviderURL string
	ServiceType string
	Description string
	BudgetUSDC  float64
	// DeliveryFormat and Deadline are advisory fields forwarded on the wire.
	DeliveryFormat string
	Deadline       string
}

// RequestQuote posts a service request and returns the validated quote.
func (c *Client) RequestQuote(ctx context.Context, params QuoteParams) (*ivxp.Quote, error) {
	base, err := normalizeProviderURL(params.ProviderURL)
	if err != nil {
		return nil, err
	}
	if params.ServiceType == "" {
		return nil, ivxp.NewError(ivxp.ErrCodeInvalidRequestParams, "service type must not be empty")
	}

	request := wire.ServiceRequest{
		Envelope: wire.NewEnvelope(ivxp.MessageTypeServiceRequest),
		ClientAgent: wire.ClientAgent{
			Name:          c.agentName,
			WalletAddress: c.crypto.Address(),
		},
		ServiceRequest: wire.ServiceRequestBody{
			Type:           params.ServiceType,
			Description:    params.Description,
			BudgetUSDC:     params.BudgetUSDC,
			DeliveryFormat: params.DeliveryFormat,
			Deadline:       params.Deadline,
		},
	}

	resp, err := c.transport.Post(ctx, base+"/ivxp/request", request)
	if err != nil {
		return nil, err
	}
	if err := ivxphttp.ClassifyStatus(resp); err != nil {
		return nil, err
	}

	quoteMsg, err := wire.ValidateServiceQuote(resp.Body)
	if err != nil {
		return nil, err
	}
	estimated, err := ivxp.ParseTimestamp(quoteMsg.Quote.EstimatedDelivery)
	if err != nil {
		return nil, ivxp.WrapError(ivxp.ErrCodeInvalidResponse, "quote carries an invalid delivery estimate", err)
	}

	quote := &ivxp.Quote{
		OrderID:           quoteMsg.OrderID,
		PriceUSDC:         quoteMsg.Quote.PriceUSDC,
		PaymentAddress:    quoteMsg.Quote.PaymentAddress,
		Network:           ivxp.Network(quoteMsg.Quote.Network),
		EstimatedDelivery: estimated,
		ProviderAgent:     quoteMsg.ProviderAgent.Name,
	}
	c.events.Emit(ivxp.EventOrderQuoted, quote)
	return quote, nil
}

// PaymentResult reports a completed payment step.
type PaymentResult struct {
	OrderID   string
	TxHash    string
	Status    string
	StreamURL string
}

// SubmitPayment pays for a quote on-chain and notifies the provider. When the
// on-chain send succeeds but the notification fails, the error is
// PARTIAL_SUCCESS carrying the tx hash, never a silent success or rollback.
func (c *Client) SubmitPayment(ctx context.Context, providerURL string, quote *ivxp.Quote, deliveryEndpoint string) (*PaymentResult, error) {
	base, err := normalizeProviderURL(providerURL)
	if err != nil {
		return nil, err
	}
	if err := validateQuoteForPayment(quote); err != nil {
		return nil, err
	}

	txHash, err := c.payment.Send(ctx, quote.PaymentAddress, quote.PriceUSDC)
	if err != nil {
		return nil, err
	}
	c.events.Emit(ivxp.EventPaymentSent, map[string]string{
		"orderId": quote.OrderID,
		"txHash":  txHash,
	})

	timestamp := ivxp.Timestamp(time.Now())
	message := ivxp.PaymentMessage(quote.OrderID, txHash, timestamp)
	signature, err := c.crypto.Sign(message)
	if err != nil {
		return nil, partialSuccess(txHash, err)
	}

	request := wire.DeliveryRequest{
		Envelope: wire.NewEnvelope(ivxp.MessageTypeDeliveryRequest),
		OrderID:  quote.OrderID,
		PaymentProof: wire.PaymentProof{
			TxHash:      txHash,
			FromAddress: c.crypto.Address(),
			Network:     string(c.network),
		},
		Signature:        signature,
		SignedMessage:    message,
		DeliveryEndpoint: deliveryEndpoint,
	}

	accepted, err := c.notifyPayment(ctx, base, quote.OrderID, request)
	if err != nil {
		return nil, partialSuccess(txHash, err)
	}

	result := &PaymentResult{
		OrderID:   quote.OrderID,
		TxHash:    txHash,
		Status:    string(ivxp.StatusPaid),
		StreamURL: accepted.StreamURL,
	}
	c.events.Emit(ivxp.EventOrderPaid, result)
	return result, nil
}

// notifyPayment posts the delivery request to the canonical payment route,
// falling back to the legacy route only on a bare 404. A coded 404 such as
// ORDER_NOT_FOUND is a real answer, not a missing route.
func (c *Client) notifyPayment(ctx context.Context, base, orderID string, request wire.DeliveryRequest) (*wire.DeliveryAccepted, error) {
	resp, err := c.transport.Post(ctx, base+"/ivxp/orders/"+orderID+"/payment", request)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound && !hasErrorCode(resp) {
		resp, err = c.transport.Post(ctx, base+"/ivxp/deliver", request)
		if err != nil {
			return nil, err
		}
	}
	if err := ivxphttp.ClassifyStatus(resp); err != nil {
		return nil, err
	}

	var accepted wire.DeliveryAccepted
	if err := ivxphttp.DecodeJSON(resp, &accepted); err != nil {
		return nil, err
	}
	if accepted.Status != "accepted" {
		return nil, ivxp.NewError(ivxp.ErrCodeInvalidResponse,
			fmt.Sprintf("provider replied %q instead of accepting the payment", accepted.Status))
	}
	return &accepted, nil
}

// WaitForDelivery blocks until the order reaches delivered or
// delivery_failed. A stream URL is consumed first; when the stream's retry
// budget is exhausted the wait transparently falls back to status polling.
func (c *Client) WaitForDelivery(ctx context.Context, providerURL, orderID, streamURL string) (ivxp.OrderStatus, error) {
	base, err := normalizeProviderURL(providerURL)
	if err != nil {
		return "", err
	}

	if streamURL != "" {
		status, fellBack, err := c.waitViaStream(ctx, base, orderID, streamURL)
		if err != nil {
			return "", err
		}
		if !fellBack {
			return status, nil
		}
		c.events.Emit(ivxp.EventSSEFallback, map[string]string{"orderId": orderID})
	}

	return c.PollOrderUntil(ctx, base, orderID, ivxp.StatusDelivered, ivxp.StatusDeliveryFailed)
}

type streamOutcome struct {
	terminal  bool
	exhausted bool
}

func (c *Client) waitViaStream(ctx context.Context, base, orderID, streamURL string) (status ivxp.OrderStatus, fellBack bool, err error) {
	outcomes := make(chan streamOutcome, 1)
	push := func(o streamOutcome) {
		select {
		case outcomes <- o:
		default:
		}
	}

	unsubscribe := ConnectSSE(ctx, streamURL, SSEHandlers{
		OnCompleted: func(string) { push(streamOutcome{terminal: true}) },
		OnFailed:    func(string) { push(streamOutcome{terminal: true}) },
		OnExhausted: func(error) { push(streamOutcome{exhausted: true}) },
	}, SSEOptions{Backoff: c.poll})
	defer unsubscribe()

	select {
	case <-ctx.Done():
		return "", false, ivxp.WrapError(ivxp.ErrCodeCancelled, "wait cancelled", ctx.Err())
	case outcome := <-outcomes:
		if outcome.exhausted {
			return "", true, nil
		}
	}

	// Terminal stream event: the status endpoint is authoritative.
	orderStatus, err := c.GetOrderStatus(ctx, base, orderID)
	if err != nil {
		return "", false, err
	}
	return ivxp.OrderStatus(orderStatus.Status), false, nil
}

// PollOrderUntil polls the status endpoint until one of targets is reached,
// emitting order.status_changed between observations.
func (c *Client) PollOrderUntil(ctx context.Context, providerURL, orderID string, targets ...ivxp.OrderStatus) (ivxp.OrderStatus, error) {
	base, err := normalizeProviderURL(providerURL)
	if err != nil {
		return "", err
	}

	var lastStatus ivxp.OrderStatus
	return Poll(ctx, func(ctx context.Context) (ivxp.OrderStatus, bool, error) {
		statusMsg, err := c.GetOrderStatus(ctx, base, orderID)
		if err != nil {
			// Transient transport trouble keeps the poll alive.
			if ivxp.IsRecoverable(err) {
				return "", false, nil
			}
			return "", false, err
		}

		status := ivxp.OrderStatus(statusMsg.Status)
		if status != lastStatus {
			if lastStatus != "" {
				c.events.Emit(ivxp.EventOrderStatusChanged, map[string]string{
					"orderId": orderID,
					"from":    string(lastStatus),
					"to":      string(status),
				})
			}
			lastStatus = status
		}

		for _, target := range targets {
			if status == target {
				return status, true, nil
			}
		}
		return "", false, nil
	}, c.poll)
}

// GetOrderStatus fetches and validates the order's authoritative status,
// trying the canonical route before the legacy one.
func (c *Client) GetOrderStatus(ctx context.Context, providerURL, orderID string) (*wire.OrderStatus, error) {
	base, err := normalizeProviderURL(providerURL)
	if err != nil {
		return nil, err
	}
	resp, err := c.getWithFallback(ctx,
		base+"/ivxp/orders/"+orderID,
		base+"/ivxp/status/"+orderID)
	if err != nil {
		return nil, err
	}
	return wire.ValidateOrderStatus(resp.Body)
}

// GetCatalog fetches the provider's service catalog.
func (c *Client) GetCatalog(ctx context.Context, providerURL string) (*wire.ServiceCatalog, error) {
	base, err := normalizeProviderURL(providerURL)
	if err != nil {
		return nil, err
	}
	resp, err := c.transport.Get(ctx, base+"/ivxp/catalog")
	if err != nil {
		return nil, err
	}
	if err := ivxphttp.ClassifyStatus(resp); err != nil {
		return nil, err
	}
	var catalog wire.ServiceCatalog
	if err := ivxphttp.DecodeJSON(resp, &catalog); err != nil {
		return nil, err
	}
	return &catalog, nil
}

// Download is a hash-verified deliverable.
type Download struct {
	OrderID     string
	Content     []byte
	ContentType string
	ContentHash string
	Binary      bool
}

// DownloadDeliverable pulls the deliverable, rejects cross-order
// substitution, and recomputes the content hash before exposing any bytes.
// A non-empty savePath also persists the content to disk.
func (c *Client) DownloadDeliverable(ctx context.Context, providerURL, orderID, savePath string) (*Download, error) {
	base, err := normalizeProviderURL(providerURL)
	if err != nil {
		return nil, err
	}
	resp, err := c.getWithFallback(ctx,
		base+"/ivxp/orders/"+orderID+"/deliverable",
		base+"/ivxp/download/"+orderID)
	if err != nil {
		return nil, err
	}

	body, err := wire.ValidateDeliveryResponse(resp.Body)
	if err != nil {
		return nil, err
	}
	if body.OrderID != orderID {
		return nil, ivxp.NewError(ivxp.ErrCodeOrderIDMismatch,
			fmt.Sprintf("deliverable is for order %s, requested %s", body.OrderID, orderID))
	}

	content, binary, err := decodeContent(*body)
	if err != nil {
		return nil, ivxp.WrapError(ivxp.ErrCodeInvalidResponse, "failed to decode deliverable content", err)
	}
	if computed := ivxp.HashBytes(content); computed != body.ContentHash {
		return nil, ivxp.NewError(ivxp.ErrCodeHashMismatch,
			"deliverable content does not match its declared hash").
			WithDetail("expectedHash", body.ContentHash).
			WithDetail("computedHash", computed)
	}

	if savePath != "" {
		if err := os.WriteFile(savePath, content, 0o644); err != nil {
			return nil, fmt.Errorf("failed to persist deliverable: %w", err)
		}
	}

	download := &Download{
		OrderID:     body.OrderID,
		Content:     content,
		ContentType: body.ContentType,
		ContentHash: body.ContentHash,
		Binary:      binary,
	}
	c.events.Emit(ivxp.EventOrderDelivered, download)
	return download, nil
}

// ConfirmationResult reports a confirmed delivery.
type ConfirmationResult struct {
	Status      string
	ConfirmedAt time.Time
}

// ConfirmDelivery signs and posts the delivery confirmation. A provider
// replying ORDER_ALREADY_CONFIRMED counts as success: confirmation is
// idempotent for the caller.
func (c *Client) ConfirmDelivery(ctx context.Context, providerURL, orderID string) (*ConfirmationResult, error) {
	base, err := normalizeProviderURL(providerURL)
	if err != nil {
		return nil, err
	}
	if !ivxp.IsValidOrderID(orderID) {
		return nil, ivxp.NewError(ivxp.ErrCodeInvalidRequestParams, "invalid order id")
	}

	timestamp := ivxp.Timestamp(time.Now())
	message := ivxp.ConfirmationMessage(orderID, timestamp)
	signature, err := c.crypto.Sign(message)
	if err != nil {
		return nil, err
	}

	request := wire.DeliveryConfirmation{
		Envelope: wire.NewEnvelope(ivxp.MessageTypeDeliveryConfirmation),
		OrderID:  orderID,
		Confirmation: wire.ConfirmationBody{
			Message:   message,
			Signature: signature,
			Signer:    c.crypto.Address(),
		},
	}

	resp, err := c.transport.Post(ctx, base+"/ivxp/orders/"+orderID+"/confirm", request)
	if err != nil {
		return nil, err
	}
	if err := ivxphttp.ClassifyStatus(resp); err != nil {
		if ivxp.ErrorCode(err) == ivxp.ErrCodeOrderAlreadyConfirmed {
			result := &ConfirmationResult{Status: "confirmed", ConfirmedAt: time.Now().UTC()}
			c.events.Emit(ivxp.EventOrderConfirmed, result)
			return result, nil
		}
		return nil, err
	}

	var body wire.ConfirmationResponse
	if err := ivxphttp.DecodeJSON(resp, &body); err != nil {
		return nil, err
	}
	confirmedAt, err := ivxp.ParseTimestamp(body.ConfirmedAt)
	if err != nil {
		confirmedAt = time.Now().UTC()
	}

	result := &ConfirmationResult{Status: body.Status, ConfirmedAt: confirmedAt}
	c.events.Emit(ivxp.EventOrderConfirmed, result)
	return result, nil
}

// RequestServiceParams drives the one-call flow.
type RequestServiceParams struct {
	ProviderURL string
	ServiceType string
	Description string
	BudgetUSDC  float64

	// Timeout bounds the whole flow; zero means no deadline.
	Timeout time.Duration
	// SkipConfirmation leaves the order in delivered.
	SkipConfirmation bool
	// UsePushDelivery starts the configured callback server and asks the
	// provider to push the deliverable to it.
	UsePushDelivery bool
	// SavePath optionally persists the deliverable.
	SavePath string

	// Progress callbacks run synchronously at the end of each step.
	OnQuote     func(*ivxp.Quote)
	OnPayment   func(*PaymentResult)
	OnDelivered func(*Download)
	OnConfirmed func(*ConfirmationResult)
}

// ServiceResult is the outcome of a full RequestService flow.
type ServiceResult struct {
	OrderID      string
	TxHash       string
	Status       ivxp.OrderStatus
	Deliverable  *Download
	Confirmation *ConfirmationResult
}

// RequestService runs quote → pay → wait → download → confirm under a single
// cancellation. The budget guard fires before any on-chain action; a timeout
// surfaces as TIMEOUT with the step and any known tx hash as partial state.
func (c *Client) RequestService(ctx context.Context, params RequestServiceParams) (*ServiceResult, error) {
	if params.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, params.Timeout)
		defer cancel()
	}

	// Step 1: quote, with the budget guard in integer micro-USDC.
	quote, err := c.RequestQuote(ctx, QuoteParams{
		ProviderURL: params.ProviderURL,
		ServiceType: params.ServiceType,
		Description: params.Description,
		BudgetUSDC:  params.BudgetUSDC,
	})
	if err != nil {
		return nil, stepError(ctx, StepQuote, "", err)
	}
	if err := checkBudget(quote.PriceUSDC, params.BudgetUSDC); err != nil {
		return nil, err
	}
	if params.OnQuote != nil {
		params.OnQuote(quote)
	}

	// Step 2: pay. Push delivery needs the callback server running first.
	deliveryEndpoint := ""
	if params.UsePushDelivery {
		if c.callback == nil {
			return nil, ivxp.NewError(ivxp.ErrCodeInvalidRequestParams,
				"push delivery requested but no callback server configured")
		}
		if c.callback.URL() == "" {
			if err := c.callback.Start(); err != nil {
				return nil, err
			}
		}
		deliveryEndpoint = c.callback.URL()
	}

	payment, err := c.SubmitPayment(ctx, params.ProviderURL, quote, deliveryEndpoint)
	if err != nil {
		return nil, stepError(ctx, StepPayment, txHashOf(err), err)
	}
	if params.OnPayment != nil {
		params.OnPayment(payment)
	}

	result := &ServiceResult{OrderID: quote.OrderID, TxHash: payment.TxHash}

	// Step 3: wait for a terminal delivery status.
	status, err := c.WaitForDelivery(ctx, params.ProviderURL, quote.OrderID, payment.StreamURL)
	if err != nil {
		return nil, stepError(ctx, StepWait, payment.TxHash, err)
	}
	result.Status = status

	// Step 4: download. After delivery_failed the pull endpoint still serves
	// any deliverable that was stored before the push failed.
	download, err := c.DownloadDeliverable(ctx, params.ProviderURL, quote.OrderID, params.SavePath)
	if err != nil {
		return nil, stepError(ctx, StepDownload, payment.TxHash, err)
	}
	result.Deliverable = download
	if params.OnDelivered != nil {
		params.OnDelivered(download)
	}

	// Step 5: confirm, only when the provider can still accept one.
	if !params.SkipConfirmation && status == ivxp.StatusDelivered {
		confirmation, err := c.ConfirmDelivery(ctx, params.ProviderURL, quote.OrderID)
		if err != nil {
			return nil, stepError(ctx, StepConfirm, payment.TxHash, err)
		}
		result.Confirmation = confirmation
		result.Status = ivxp.StatusConfirmed
		if params.OnConfirmed != nil {
			params.OnConfirmed(confirmation)
		}
	}

	return result, nil
}

// getWithFallback tries the canonical route and retries the legacy route
// only on a bare 404 (unknown path, not a coded protocol rejection).
func (c *Client) getWithFallback(ctx context.Context, canonicalURL, legacyURL string) (*ivxphttp.Response, error) {
	resp, err := c.transport.Get(ctx, canonicalURL)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound && !hasErrorCode(resp) {
		resp, err = c.transport.Get(ctx, legacyURL)
		if err != nil {
			return nil, err
		}
	}
	if err := ivxphttp.ClassifyStatus(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func hasErrorCode(resp *ivxphttp.Response) bool {
	var body struct {
		Code string `json:"code"`
	}
	return ivxphttp.DecodeJSON(resp, &body) == nil && body.Code != ""
}

// checkBudget compares quote and budget in integer micro-USDC.
func checkBudget(priceUSDC string, budgetUSDC float64) error {
	priceMicro, err := ivxp.ToMicroUSDC(priceUSDC)
	if err != nil {
		return ivxp.WrapError(ivxp.ErrCodeInvalidResponse, "quote carries an invalid price", err)
	}
	budgetMicro := int64(math.Round(budgetUSDC * 1e6))
	if priceMicro > budgetMicro {
		return ivxp.NewError(ivxp.ErrCodeBudgetExceeded,
			fmt.Sprintf("quoted price %s USDC exceeds budget %s USDC",
				priceUSDC, ivxp.FormatUSDC(budgetUSDC))).
			WithDetail("priceUsdc", priceUSDC).
			WithDetail("budgetUsdc", ivxp.FormatUSDC(budgetUSDC))
	}
	return nil
}

func validateQuoteForPayment(quote *ivxp.Quote) error {
	if quote == nil {
		return ivxp.NewError(ivxp.ErrCodeInvalidRequestParams, "quote must not be nil")
	}
	if !ivxp.IsValidOrderID(quote.OrderID) {
		return ivxp.NewError(ivxp.ErrCodeInvalidRequestParams, "invalid order id")
	}
	priceMicro, err := ivxp.ToMicroUSDC(quote.PriceUSDC)
	if err != nil || priceMicro <= 0 {
		return ivxp.NewError(ivxp.ErrCodeInvalidRequestParams, "price must be a positive USDC amount")
	}
	if !ivxp.IsValidPaymentAddress(quote.PaymentAddress) {
		return ivxp.NewError(ivxp.ErrCodeInvalidAddress, "payment address must be a non-zero 20-byte hex address")
	}
	return nil
}

// partialSuccess marks a failure that happened after the on-chain send.
func partialSuccess(txHash string, cause error) error {
	return (&ivxp.ProtocolError{
		Code:        ivxp.ErrCodePartialSuccess,
		Message:     "payment sent on-chain but provider notification failed",
		Recoverable: true,
		Cause:       cause,
	}).WithDetail("txHash", txHash)
}

// stepError tags a step failure, converting deadline expiry into TIMEOUT
// with whatever partial state is known.
func stepError(ctx context.Context, step, txHash string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		timeout := &ivxp.ProtocolError{
			Code:        ivxp.ErrCodeTimeout,
			Message:     fmt.Sprintf("operation timed out during %s", step),
			Recoverable: true,
			Cause:       err,
		}
		timeout.WithDetail("step", step)
		if txHash != "" {
			timeout.WithDetail("txHash", txHash)
		}
		return timeout
	}
	if pe, ok := err.(*ivxp.ProtocolError); ok {
		return pe.WithDetail("step", step)
	}
	return ivxp.WrapError(ivxp.ErrCodeRequestFailed, fmt.Sprintf("step %s failed", step), err)
}

// txHashOf pulls the tx hash from a PARTIAL_SUCCESS error, or "".
func txHashOf(err error) string {
	pe, ok := err.(*ivxp.ProtocolError)
	if !ok || pe.Details == nil {
		return ""
	}
	if hash, ok := pe.Details["txHash"].(string); ok {
		return hash
	}
	return ""
}

// normalizeProviderURL validates the provider base URL and strips any
// trailing slash.
func normalizeProviderURL(raw string) (string, error) {
	parsed, err := url.Parse(raw)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return "", ivxp.NewError(ivxp.ErrCodeInvalidProviderURL,
			fmt.Sprintf("provider URL %q must be absolute http(s)", raw))
	}
	return strings.TrimRight(raw, "/"), nil
}
