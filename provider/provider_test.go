package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ivxp "github.com/ivxp/ivxp-go"
	evmsigner "github.com/ivxp/ivxp-go/signers/evm"
	"github.com/ivxp/ivxp-go/wire"
)

// Well-known development keys; never funded.
const (
	providerKey  = "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
	providerAddr = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	clientKey    = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	clientAddr   = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

var testTxHash = "0x" + strings.Repeat("ab", 32)

// fakeVerifier scripts on-chain verification results.
type fakeVerifier struct {
	verified bool
	err      error
	calls    atomic.Int32
	lastTx   atomic.Value // string
}

func (v *fakeVerifier) Send(ctx context.Context, to, amountUSDC string) (string, error) {
	return "", errors.New("provider side never sends")
}

func (v *fakeVerifier) VerifyTransfer(ctx context.Context, txHash string, expected ivxp.ExpectedTransfer) (bool, error) {
	v.calls.Add(1)
	v.lastTx.Store(txHash)
	return v.verified, v.err
}

func (v *fakeVerifier) Balance(ctx context.Context, addr string) (string, error) {
	return "0.000000", nil
}

func echoHandler(ctx context.Context, order ivxp.Order) (ivxp.HandlerResult, error) {
	return ivxp.HandlerResult{
		Content:     []byte("result for " + order.OrderID),
		ContentType: "text/plain",
	}, nil
}

func newTestProvider(t *testing.T, verifier ivxp.PaymentService, opts ...ProviderOption) *Provider {
	t.Helper()
	if verifier == nil {
		verifier = &fakeVerifier{verified: true}
	}
	all := append([]ProviderOption{WithPaymentService(verifier)}, opts...)
	p, err := New(Config{
		ProviderName:             "Test Provider",
		PrivateKey:               providerKey,
		Network:                  ivxp.NetworkBaseSepolia,
		AllowPrivateDeliveryURLs: true,
	}, all...)
	require.NoError(t, err)

	require.NoError(t, p.RegisterService(ivxp.Service{
		Type:                   "translation",
		Description:            "document translation",
		BasePriceUSDC:          10,
		EstimatedDeliveryHours: 1,
	}, echoHandler))
	return p
}

// quoteOrder creates an order through the quote path and returns its id.
func quoteOrder(t *testing.T, p *Provider) string {
	t.Helper()
	quote, err := p.Quote(context.Background(), wire.ServiceRequest{
		Envelope: wire.NewEnvelope(ivxp.MessageTypeServiceRequest),
		ClientAgent: wire.ClientAgent{
			Name:          "Test Client",
			WalletAddress: clientAddr,
		},
		ServiceRequest: wire.ServiceRequestBody{Type: "translation", BudgetUSDC: 25},
	})
	require.NoError(t, err)
	return quote.OrderID
}

// signedPayment builds a valid delivery request for orderID.
func signedPayment(t *testing.T, orderID, txHash string) wire.DeliveryRequest {
	t.Helper()
	signer, err := evmsigner.NewSigner(clientKey)
	require.NoError(t, err)

	message := ivxp.PaymentMessage(orderID, txHash, ivxp.Timestamp(time.Now()))
	signature, err := signer.Sign(message)
	require.NoError(t, err)

	return wire.DeliveryRequest{
		Envelope: wire.NewEnvelope(ivxp.MessageTypeDeliveryRequest),
		OrderID:  orderID,
		PaymentProof: wire.PaymentProof{
			TxHash:      txHash,
			FromAddress: clientAddr,
			Network:     string(ivxp.NetworkBaseSepolia),
		},
		Signature:     signature,
		SignedMessage: message,
	}
}

func waitForStatus(t *testing.T, p *Provider, orderID string, want ivxp.OrderStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		order, err := p.orders.Get(context.Background(), orderID)
		require.NoError(t, err)
		require.NotNil(t, order)
		if order.Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("order %s never reached %s", orderID, want)
}

func TestCatalog(t *testing.T) {
	p := newTestProvider(t, nil)
	catalog := p.Catalog()

	assert.Equal(t, "Test Provider", catalog.Provider)
	assert.Equal(t, providerAddr, catalog.WalletAddress)
	require.Len(t, catalog.Services, 1)
	assert.Equal(t, "translation", catalog.Services[0].Type)
	assert.Equal(t, 10.0, catalog.Services[0].BasePriceUSDC)
}

func TestRegisterServiceValidation(t *testing.T) {
	p := newTestProvider(t, nil)

	err := p.RegisterService(ivxp.Service{Type: "", BasePriceUSDC: 1, EstimatedDeliveryHours: 1}, echoHandler)
	assert.Equal(t, ivxp.ErrCodeInvalidRequestParams, ivxp.ErrorCode(err))

	err = p.RegisterService(ivxp.Service{Type: "x", BasePriceUSDC: 1, EstimatedDeliveryHours: 1}, nil)
	assert.Equal(t, ivxp.ErrCodeInvalidRequestParams, ivxp.ErrorCode(err))

	err = p.RegisterService(ivxp.Service{Type: "x", BasePriceUSDC: 2_000_000, EstimatedDeliveryHours: 1}, echoHandler)
	assert.Equal(t, ivxp.ErrCodeInvalidRequestParams, ivxp.ErrorCode(err))

	err = p.RegisterService(ivxp.Service{Type: "x", BasePriceUSDC: 1, EstimatedDeliveryHours: 0}, echoHandler)
	assert.Equal(t, ivxp.ErrCodeInvalidRequestParams, ivxp.ErrorCode(err))

	err = p.RegisterService(ivxp.Service{Type: "x", BasePriceUSDC: 1, EstimatedDeliveryHours: 9000}, echoHandler)
	assert.Equal(t, ivxp.ErrCodeInvalidRequestParams, ivxp.ErrorCode(err))
}

func TestQuote(t *testing.T) {
	p := newTestProvider(t, nil)

	quote, err := p.Quote(context.Background(), wire.ServiceRequest{
		ClientAgent:    wire.ClientAgent{Name: "c", WalletAddress: clientAddr},
		ServiceRequest: wire.ServiceRequestBody{Type: "translation", BudgetUSDC: 25},
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(quote.OrderID, ivxp.OrderIDPrefix))
	assert.Equal(t, "10.000000", quote.Quote.PriceUSDC)
	assert.Equal(t, providerAddr, quote.Quote.PaymentAddress)
	assert.Equal(t, "base-sepolia", quote.Quote.Network)

	order, err := p.orders.Get(context.Background(), quote.OrderID)
	require.NoError(t, err)
	require.NotNil(t, order)
	assert.Equal(t, ivxp.StatusQuoted, order.Status)
	assert.Equal(t, clientAddr, order.ClientAddress)
}

func TestQuoteRejections(t *testing.T) {
	p := newTestProvider(t, nil)
	ctx := context.Background()

	_, err := p.Quote(ctx, wire.ServiceRequest{
		ClientAgent:    wire.ClientAgent{WalletAddress: clientAddr},
		ServiceRequest: wire.ServiceRequestBody{Type: "alchemy"},
	})
	assert.Equal(t, ivxp.ErrCodeServiceNotFound, ivxp.ErrorCode(err))

	_, err = p.Quote(ctx, wire.ServiceRequest{
		ClientAgent:    wire.ClientAgent{WalletAddress: "0xnope"},
		ServiceRequest: wire.ServiceRequestBody{Type: "translation"},
	})
	assert.Equal(t, ivxp.ErrCodeInvalidAddress, ivxp.ErrorCode(err))
}

func TestAcceptPaymentHappyPath(t *testing.T) {
	verifier := &fakeVerifier{verified: true}
	p := newTestProvider(t, verifier)
	orderID := quoteOrder(t, p)

	accepted, err := p.AcceptPayment(context.Background(), orderID, signedPayment(t, orderID, testTxHash))
	require.NoError(t, err)
	assert.Equal(t, "accepted", accepted.Status)
	assert.Contains(t, accepted.StreamURL, "/ivxp/stream/"+orderID)
	assert.Equal(t, int32(1), verifier.calls.Load())

	waitForStatus(t, p, orderID, ivxp.StatusDelivered)

	order, err := p.orders.Get(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, testTxHash, order.TxHash)
	assert.NotEmpty(t, order.ContentHash)

	deliverable, err := p.store.Get(context.Background(), orderID)
	require.NoError(t, err)
	require.NotNil(t, deliverable)
	assert.Equal(t, []byte("result for "+orderID), deliverable.Content)
	assert.Equal(t, ivxp.HashBytes(deliverable.Content), deliverable.ContentHash)
}

func TestAcceptPaymentRejections(t *testing.T) {
	requireQuotedAfter := func(t *testing.T, p *Provider, orderID string) {
		order, err := p.orders.Get(context.Background(), orderID)
		require.NoError(t, err)
		assert.Equal(t, ivxp.StatusQuoted, order.Status, "rejection must not change order state")
		assert.Empty(t, order.TxHash)
	}

	t.Run("unknown order", func(t *testing.T) {
		p := newTestProvider(t, nil)
		_, err := p.AcceptPayment(context.Background(), "ivxp-missing", signedPayment(t, "ivxp-missing", testTxHash))
		assert.Equal(t, ivxp.ErrCodeOrderNotFound, ivxp.ErrorCode(err))
	})

	t.Run("wrong order status", func(t *testing.T) {
		p := newTestProvider(t, nil)
		orderID := quoteOrder(t, p)
		_, err := p.AcceptPayment(context.Background(), orderID, signedPayment(t, orderID, testTxHash))
		require.NoError(t, err)
		p.processing.Wait()

		_, err = p.AcceptPayment(context.Background(), orderID, signedPayment(t, orderID, "0x"+strings.Repeat("cd", 32)))
		assert.Equal(t, ivxp.ErrCodeInvalidOrderStatus, ivxp.ErrorCode(err))
	})

	t.Run("signed message not bound to order", func(t *testing.T) {
		p := newTestProvider(t, nil)
		orderID := quoteOrder(t, p)
		request := signedPayment(t, "ivxp-some-other-order", testTxHash)
		request.OrderID = orderID

		_, err := p.AcceptPayment(context.Background(), orderID, request)
		assert.Equal(t, ivxp.ErrCodeInvalidSignedMessage, ivxp.ErrorCode(err))
		requireQuotedAfter(t, p, orderID)
	})

	t.Run("network mismatch", func(t *testing.T) {
		p := newTestProvider(t, nil)
		orderID := quoteOrder(t, p)
		request := signedPayment(t, orderID, testTxHash)
		request.PaymentProof.Network = string(ivxp.NetworkBaseMainnet)

		_, err := p.AcceptPayment(context.Background(), orderID, request)
		assert.Equal(t, ivxp.ErrCodeNetworkMismatch, ivxp.ErrorCode(err))
		requireQuotedAfter(t, p, orderID)
	})

	t.Run("transfer not found on chain", func(t *testing.T) {
		p := newTestProvider(t, &fakeVerifier{verified: false})
		orderID := quoteOrder(t, p)

		_, err := p.AcceptPayment(context.Background(), orderID, signedPayment(t, orderID, testTxHash))
		assert.Equal(t, ivxp.ErrCodePaymentVerificationFailed, ivxp.ErrorCode(err))
		requireQuotedAfter(t, p, orderID)
	})

	t.Run("verification transport failure propagates", func(t *testing.T) {
		p := newTestProvider(t, &fakeVerifier{err: ivxp.NewRecoverableError(ivxp.ErrCodeNetworkError, "rpc down")})
		orderID := quoteOrder(t, p)

		_, err := p.AcceptPayment(context.Background(), orderID, signedPayment(t, orderID, testTxHash))
		assert.Equal(t, ivxp.ErrCodeNetworkError, ivxp.ErrorCode(err))
		requireQuotedAfter(t, p, orderID)
	})

	t.Run("signature from wrong key", func(t *testing.T) {
		p := newTestProvider(t, nil)
		orderID := quoteOrder(t, p)

		// Sign with the provider's key but claim the client paid.
		wrongSigner, err := evmsigner.NewSigner(providerKey)
		require.NoError(t, err)
		message := ivxp.PaymentMessage(orderID, testTxHash, ivxp.Timestamp(time.Now()))
		signature, err := wrongSigner.Sign(message)
		require.NoError(t, err)

		request := signedPayment(t, orderID, testTxHash)
		request.SignedMessage = message
		request.Signature = signature

		_, err = p.AcceptPayment(context.Background(), orderID, request)
		assert.Equal(t, ivxp.ErrCodeSignatureVerificationFailed, ivxp.ErrorCode(err))
		requireQuotedAfter(t, p, orderID)
	})

	t.Run("signature from a third party wallet", func(t *testing.T) {
		p := newTestProvider(t, nil)
		orderID := quoteOrder(t, p)

		// An attacker pays from their own wallet and signs with their own
		// key. The transfer matches, but the signature must recover to the
		// client the order was quoted to.
		attacker, err := evmsigner.NewSigner("0x5de4111afa1a4b94908f83103eb1f1706367c2e68ca870fc3fb9a804cdab365a")
		require.NoError(t, err)
		message := ivxp.PaymentMessage(orderID, testTxHash, ivxp.Timestamp(time.Now()))
		signature, err := attacker.Sign(message)
		require.NoError(t, err)

		request := signedPayment(t, orderID, testTxHash)
		request.SignedMessage = message
		request.Signature = signature
		request.PaymentProof.FromAddress = attacker.Address()

		_, err = p.AcceptPayment(context.Background(), orderID, request)
		assert.Equal(t, ivxp.ErrCodeSignatureVerificationFailed, ivxp.ErrorCode(err))
		requireQuotedAfter(t, p, orderID)
	})

	t.Run("malformed tx hash", func(t *testing.T) {
		p := newTestProvider(t, nil)
		orderID := quoteOrder(t, p)
		request := signedPayment(t, orderID, testTxHash)
		request.PaymentProof.TxHash = "0xnothash"

		_, err := p.AcceptPayment(context.Background(), orderID, request)
		assert.Equal(t, ivxp.ErrCodePaymentVerificationFailed, ivxp.ErrorCode(err))
		requireQuotedAfter(t, p, orderID)
	})
}

func TestAcceptPaymentReplay(t *testing.T) {
	verifier := &fakeVerifier{verified: true}
	p := newTestProvider(t, verifier)

	first := quoteOrder(t, p)
	second := quoteOrder(t, p)

	_, err := p.AcceptPayment(context.Background(), first, signedPayment(t, first, testTxHash))
	require.NoError(t, err)
	p.processing.Wait()

	// Same tx hash, different case, different order.
	replayHash := "0x" + strings.ToUpper(strings.Repeat("ab", 32))
	_, err = p.AcceptPayment(context.Background(), second, signedPayment(t, second, replayHash))
	assert.Equal(t, ivxp.ErrCodePaymentVerificationFailed, ivxp.ErrorCode(err))

	order, err := p.orders.Get(context.Background(), second)
	require.NoError(t, err)
	assert.Equal(t, ivxp.StatusQuoted, order.Status)
}

func TestProcessingHandlerFailure(t *testing.T) {
	p := newTestProvider(t, nil)
	require.NoError(t, p.RegisterService(ivxp.Service{
		Type:                   "doomed",
		BasePriceUSDC:          1,
		EstimatedDeliveryHours: 1,
	}, func(ctx context.Context, order ivxp.Order) (ivxp.HandlerResult, error) {
		return ivxp.HandlerResult{}, errors.New("model exploded")
	}))

	quote, err := p.Quote(context.Background(), wire.ServiceRequest{
		ClientAgent:    wire.ClientAgent{WalletAddress: clientAddr},
		ServiceRequest: wire.ServiceRequestBody{Type: "doomed"},
	})
	require.NoError(t, err)

	_, err = p.AcceptPayment(context.Background(), quote.OrderID, signedPayment(t, quote.OrderID, testTxHash))
	require.NoError(t, err)

	waitForStatus(t, p, quote.OrderID, ivxp.StatusDeliveryFailed)
}

func TestProcessingHandlerPanicIsContained(t *testing.T) {
	p := newTestProvider(t, nil)
	require.NoError(t, p.RegisterService(ivxp.Service{
		Type:                   "panicky",
		BasePriceUSDC:          1,
		EstimatedDeliveryHours: 1,
	}, func(ctx context.Context, order ivxp.Order) (ivxp.HandlerResult, error) {
		panic("boom")
	}))

	quote, err := p.Quote(context.Background(), wire.ServiceRequest{
		ClientAgent:    wire.ClientAgent{WalletAddress: clientAddr},
		ServiceRequest: wire.ServiceRequestBody{Type: "panicky"},
	})
	require.NoError(t, err)

	_, err = p.AcceptPayment(context.Background(), quote.OrderID, signedPayment(t, quote.OrderID, testTxHash))
	require.NoError(t, err)

	waitForStatus(t, p, quote.OrderID, ivxp.StatusDeliveryFailed)
}

func TestPushDeliveryFailureKeepsDeliverable(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()

	p := newTestProvider(t, nil)
	orderID := quoteOrder(t, p)

	request := signedPayment(t, orderID, testTxHash)
	request.DeliveryEndpoint = failing.URL + "/ivxp/callback"

	_, err := p.AcceptPayment(context.Background(), orderID, request)
	require.NoError(t, err)

	waitForStatus(t, p, orderID, ivxp.StatusDeliveryFailed)

	// The pull path still serves the produced deliverable.
	response, err := p.Deliverable(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, "result for "+orderID, response.Content)
}

func TestPushDeliveryHappyPath(t *testing.T) {
	received := make(chan wire.DeliveryResponse, 1)
	callback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body wire.DeliveryResponse
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		received <- body
		w.Write([]byte(`{"status":"received"}`))
	}))
	defer callback.Close()

	p := newTestProvider(t, nil)
	orderID := quoteOrder(t, p)

	request := signedPayment(t, orderID, testTxHash)
	request.DeliveryEndpoint = callback.URL + "/ivxp/callback"

	_, err := p.AcceptPayment(context.Background(), orderID, request)
	require.NoError(t, err)

	waitForStatus(t, p, orderID, ivxp.StatusDelivered)

	select {
	case body := <-received:
		assert.Equal(t, orderID, body.OrderID)
		assert.Equal(t, ivxp.HashString(body.Content), body.ContentHash)
	case <-time.After(time.Second):
		t.Fatal("deliverable was never pushed")
	}
}

func TestConfirm(t *testing.T) {
	p := newTestProvider(t, nil)
	orderID := quoteOrder(t, p)
	_, err := p.AcceptPayment(context.Background(), orderID, signedPayment(t, orderID, testTxHash))
	require.NoError(t, err)
	waitForStatus(t, p, orderID, ivxp.StatusDelivered)

	signer, err := evmsigner.NewSigner(clientKey)
	require.NoError(t, err)
	message := ivxp.ConfirmationMessage(orderID, ivxp.Timestamp(time.Now()))
	signature, err := signer.Sign(message)
	require.NoError(t, err)

	confirmation := wire.DeliveryConfirmation{
		Envelope: wire.NewEnvelope(ivxp.MessageTypeDeliveryConfirmation),
		OrderID:  orderID,
		Confirmation: wire.ConfirmationBody{
			Message:   message,
			Signature: signature,
			Signer:    clientAddr,
		},
	}

	response, err := p.Confirm(context.Background(), orderID, confirmation)
	require.NoError(t, err)
	assert.Equal(t, "confirmed", response.Status)

	// Second confirmation reports the dedicated code.
	_, err = p.Confirm(context.Background(), orderID, confirmation)
	assert.Equal(t, ivxp.ErrCodeOrderAlreadyConfirmed, ivxp.ErrorCode(err))
}

func TestConfirmRejections(t *testing.T) {
	p := newTestProvider(t, nil)
	orderID := quoteOrder(t, p)

	signer, err := evmsigner.NewSigner(clientKey)
	require.NoError(t, err)
	message := ivxp.ConfirmationMessage(orderID, ivxp.Timestamp(time.Now()))
	signature, err := signer.Sign(message)
	require.NoError(t, err)
	confirmation := wire.DeliveryConfirmation{
		OrderID:      orderID,
		Confirmation: wire.ConfirmationBody{Message: message, Signature: signature, Signer: clientAddr},
	}

	// Confirming a quoted order is premature.
	_, err = p.Confirm(context.Background(), orderID, confirmation)
	assert.Equal(t, ivxp.ErrCodeInvalidOrderStatus, ivxp.ErrorCode(err))

	_, err = p.AcceptPayment(context.Background(), orderID, signedPayment(t, orderID, testTxHash))
	require.NoError(t, err)
	waitForStatus(t, p, orderID, ivxp.StatusDelivered)

	t.Run("message bound to another order", func(t *testing.T) {
		otherMessage := ivxp.ConfirmationMessage("ivxp-other", ivxp.Timestamp(time.Now()))
		otherSig, err := signer.Sign(otherMessage)
		require.NoError(t, err)
		_, err = p.Confirm(context.Background(), orderID, wire.DeliveryConfirmation{
			OrderID:      orderID,
			Confirmation: wire.ConfirmationBody{Message: otherMessage, Signature: otherSig, Signer: clientAddr},
		})
		assert.Equal(t, ivxp.ErrCodeInvalidSignedMessage, ivxp.ErrorCode(err))
	})

	t.Run("freeform message containing the id", func(t *testing.T) {
		freeform := "I confirm receipt of " + orderID
		freeformSig, err := signer.Sign(freeform)
		require.NoError(t, err)
		_, err = p.Confirm(context.Background(), orderID, wire.DeliveryConfirmation{
			OrderID:      orderID,
			Confirmation: wire.ConfirmationBody{Message: freeform, Signature: freeformSig, Signer: clientAddr},
		})
		assert.Equal(t, ivxp.ErrCodeInvalidSignedMessage, ivxp.ErrorCode(err))
	})

	t.Run("signature from wrong key", func(t *testing.T) {
		wrongSigner, err := evmsigner.NewSigner(providerKey)
		require.NoError(t, err)
		wrongSig, err := wrongSigner.Sign(message)
		require.NoError(t, err)
		_, err = p.Confirm(context.Background(), orderID, wire.DeliveryConfirmation{
			OrderID:      orderID,
			Confirmation: wire.ConfirmationBody{Message: message, Signature: wrongSig, Signer: clientAddr},
		})
		assert.Equal(t, ivxp.ErrCodeSignatureVerificationFailed, ivxp.ErrorCode(err))
	})

	t.Run("unknown order", func(t *testing.T) {
		_, err := p.Confirm(context.Background(), "ivxp-missing", confirmation)
		assert.Equal(t, ivxp.ErrCodeOrderNotFound, ivxp.ErrorCode(err))
	})
}

func TestStatusAndDeliverable(t *testing.T) {
	p := newTestProvider(t, nil)
	orderID := quoteOrder(t, p)

	status, err := p.Status(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, string(ivxp.StatusQuoted), status.Status)
	assert.Equal(t, "translation", status.Service)
	assert.Empty(t, status.ContentHash)

	_, err = p.Status(context.Background(), "ivxp-missing")
	assert.Equal(t, ivxp.ErrCodeOrderNotFound, ivxp.ErrorCode(err))

	_, err = p.Deliverable(context.Background(), orderID)
	assert.Equal(t, ivxp.ErrCodeDeliverableNotReady, ivxp.ErrorCode(err))

	_, err = p.Deliverable(context.Background(), "ivxp-missing")
	assert.Equal(t, ivxp.ErrCodeOrderNotFound, ivxp.ErrorCode(err))
}

func TestValidateDeliveryURL(t *testing.T) {
	guarded, err := New(Config{PrivateKey: providerKey, Network: ivxp.NetworkBaseSepolia},
		WithPaymentService(&fakeVerifier{verified: true}))
	require.NoError(t, err)

	rejected := []string{
		"ftp://example.com/cb",
		"not a url",
		"http://localhost:8080/cb",
		"http://LOCALHOST/cb",
		"http://127.0.0.1/cb",
		"http://127.8.9.1/cb",
		"http://[::1]/cb",
		"http://10.0.0.5/cb",
		"http://172.16.0.1/cb",
		"http://172.31.255.255/cb",
		"http://192.168.1.1/cb",
		"http://169.254.1.1/cb",
		"http://0.0.0.0/cb",
		"http://0.1.2.3/cb",
	}
	for _, url := range rejected {
		err := guarded.validateDeliveryURL(url)
		assert.Equal(t, ivxp.ErrCodeInvalidDeliveryURL, ivxp.ErrorCode(err), url)
	}

	accepted := []string{
		"https://client.example.com/ivxp/callback",
		"http://203.0.113.7/cb",
		"http://172.32.0.1/cb",
	}
	for _, url := range accepted {
		assert.NoError(t, guarded.validateDeliveryURL(url), url)
	}

	// The test override admits private addresses.
	open := newTestProvider(t, nil)
	assert.NoError(t, open.validateDeliveryURL("http://127.0.0.1:9999/cb"))
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("IVXP_PRIVATE_KEY", providerKey)
	t.Setenv("IVXP_NETWORK", "base-mainnet")
	t.Setenv("IVXP_PORT", "4100")
	t.Setenv("IVXP_PROVIDER_NAME", "Env Provider")
	t.Setenv("IVXP_ALLOW_PRIVATE_DELIVERY_URLS", "true")

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, providerKey, cfg.PrivateKey)
	assert.Equal(t, ivxp.NetworkBaseMainnet, cfg.Network)
	assert.Equal(t, 4100, cfg.Port)
	assert.Equal(t, "Env Provider", cfg.ProviderName)
	assert.True(t, cfg.AllowPrivateDeliveryURLs)
}

func TestConfigFromEnvDefaultsAndErrors(t *testing.T) {
	t.Setenv("IVXP_PRIVATE_KEY", providerKey)
	t.Setenv("IVXP_NETWORK", "")
	t.Setenv("IVXP_PORT", "")
	t.Setenv("IVXP_PROVIDER_NAME", "")
	t.Setenv("IVXP_ALLOW_PRIVATE_DELIVERY_URLS", "")

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, DefaultNetwork, cfg.Network)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultProviderName, cfg.ProviderName)
	assert.Equal(t, int64(DefaultMaxBodyBytes), cfg.MaxBodyBytes)

	t.Setenv("IVXP_PORT", "not-a-port")
	_, err = ConfigFromEnv()
	assert.Equal(t, ivxp.ErrCodeInvalidProviderConfig, ivxp.ErrorCode(err))

	t.Setenv("IVXP_PORT", "4100")
	t.Setenv("IVXP_NETWORK", "dogechain")
	_, err = ConfigFromEnv()
	assert.Equal(t, ivxp.ErrCodeInvalidProviderConfig, ivxp.ErrorCode(err))
}
