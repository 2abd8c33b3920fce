package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ivxp "github.com/ivxp/ivxp-go"
	evmsigner "github.com/ivxp/ivxp-go/signers/evm"
	"github.com/ivxp/ivxp-go/wire"
)

func newTestServer(t *testing.T, p *Provider) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(NewServer(p).Handler())
	t.Cleanup(server.Close)
	return server
}

func doJSON(t *testing.T, method, url string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func errorCodeOf(t *testing.T, raw []byte) string {
	t.Helper()
	var body wire.ErrorResponse
	require.NoError(t, json.Unmarshal(raw, &body))
	return body.Code
}

func TestServerCatalogRoute(t *testing.T) {
	server := newTestServer(t, newTestProvider(t, nil))

	resp, raw := doJSON(t, http.MethodGet, server.URL+"/ivxp/catalog", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var catalog wire.ServiceCatalog
	require.NoError(t, json.Unmarshal(raw, &catalog))
	assert.Equal(t, ivxp.ProtocolVersion, catalog.Protocol)
	assert.Len(t, catalog.Services, 1)
}

func TestServerQuoteRoute(t *testing.T) {
	server := newTestServer(t, newTestProvider(t, nil))

	request := wire.ServiceRequest{
		Envelope:       wire.NewEnvelope(ivxp.MessageTypeServiceRequest),
		ClientAgent:    wire.ClientAgent{Name: "c", WalletAddress: clientAddr},
		ServiceRequest: wire.ServiceRequestBody{Type: "translation", BudgetUSDC: 25},
	}
	resp, raw := doJSON(t, http.MethodPost, server.URL+"/ivxp/request", request)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	quote, err := wire.ValidateServiceQuote(raw)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(quote.OrderID, ivxp.OrderIDPrefix))
}

func TestServerQuoteRouteRejections(t *testing.T) {
	server := newTestServer(t, newTestProvider(t, nil))

	t.Run("unknown service is 404", func(t *testing.T) {
		resp, raw := doJSON(t, http.MethodPost, server.URL+"/ivxp/request", wire.ServiceRequest{
			ClientAgent:    wire.ClientAgent{WalletAddress: clientAddr},
			ServiceRequest: wire.ServiceRequestBody{Type: "alchemy"},
		})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, ivxp.ErrCodeServiceNotFound, errorCodeOf(t, raw))
	})

	t.Run("missing fields are 400 with a stable message", func(t *testing.T) {
		resp, raw := doJSON(t, http.MethodPost, server.URL+"/ivxp/request", map[string]string{})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		var body wire.ErrorResponse
		require.NoError(t, json.Unmarshal(raw, &body))
		assert.True(t, strings.HasPrefix(body.Error, "Missing required fields"))
	})

	t.Run("malformed JSON is 400", func(t *testing.T) {
		resp, err := http.Post(server.URL+"/ivxp/request", "application/json", strings.NewReader("{"))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		var body wire.ErrorResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "Invalid request", body.Error)
	})
}

func TestServerRouting(t *testing.T) {
	server := newTestServer(t, newTestProvider(t, nil))

	t.Run("unknown path is 404", func(t *testing.T) {
		resp, _ := doJSON(t, http.MethodGet, server.URL+"/ivxp/unknown", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("wrong method is 405", func(t *testing.T) {
		resp, _ := doJSON(t, http.MethodDelete, server.URL+"/ivxp/catalog", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})

	t.Run("query strings are ignored for routing", func(t *testing.T) {
		resp, _ := doJSON(t, http.MethodGet, server.URL+"/ivxp/catalog?verbose=1", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("oversized body is 413", func(t *testing.T) {
		huge := strings.Repeat("x", 65*1024)
		resp, raw := doJSON(t, http.MethodPost, server.URL+"/ivxp/request", map[string]string{"pad": huge})
		assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
		assert.Equal(t, ivxp.ErrCodeRequestTooLarge, errorCodeOf(t, raw))
	})
}

func TestServerSchemaValidation(t *testing.T) {
	p := newTestProvider(t, nil)
	server := newTestServer(t, p)

	t.Run("malformed wallet address in request", func(t *testing.T) {
		resp, raw := doJSON(t, http.MethodPost, server.URL+"/ivxp/request", wire.ServiceRequest{
			ClientAgent:    wire.ClientAgent{Name: "c", WalletAddress: "0xnothex"},
			ServiceRequest: wire.ServiceRequestBody{Type: "translation", BudgetUSDC: 25},
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, ivxp.ErrCodeInvalidRequestParams, errorCodeOf(t, raw))
	})

	t.Run("malformed tx hash in payment", func(t *testing.T) {
		orderID := quoteOrder(t, p)
		request := signedPayment(t, orderID, testTxHash)
		request.PaymentProof.TxHash = "0xnothash"

		resp, raw := doJSON(t, http.MethodPost, server.URL+"/ivxp/orders/"+orderID+"/payment", request)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, ivxp.ErrCodeInvalidRequestParams, errorCodeOf(t, raw))
	})

	t.Run("malformed signer in confirmation", func(t *testing.T) {
		orderID := quoteOrder(t, p)
		resp, raw := doJSON(t, http.MethodPost, server.URL+"/ivxp/orders/"+orderID+"/confirm", wire.DeliveryConfirmation{
			OrderID:      orderID,
			Confirmation: wire.ConfirmationBody{Message: "m", Signature: "s", Signer: "not-an-address"},
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, ivxp.ErrCodeInvalidRequestParams, errorCodeOf(t, raw))
	})
}

func TestServerPaymentRoutes(t *testing.T) {
	p := newTestProvider(t, nil)
	server := newTestServer(t, p)

	t.Run("canonical route", func(t *testing.T) {
		orderID := quoteOrder(t, p)
		resp, raw := doJSON(t, http.MethodPost,
			server.URL+"/ivxp/orders/"+orderID+"/payment",
			signedPayment(t, orderID, testTxHash))
		require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

		var accepted wire.DeliveryAccepted
		require.NoError(t, json.Unmarshal(raw, &accepted))
		assert.Equal(t, "accepted", accepted.Status)
		assert.NotEmpty(t, accepted.StreamURL)
	})

	t.Run("legacy route reads the order id from the body", func(t *testing.T) {
		orderID := quoteOrder(t, p)
		resp, raw := doJSON(t, http.MethodPost, server.URL+"/ivxp/deliver",
			signedPayment(t, orderID, "0x"+strings.Repeat("cd", 32)))
		require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	})

	t.Run("verification failure is 400", func(t *testing.T) {
		rejecting := newTestProvider(t, &fakeVerifier{verified: false})
		rejectingServer := newTestServer(t, rejecting)
		orderID := quoteOrder(t, rejecting)

		resp, raw := doJSON(t, http.MethodPost,
			rejectingServer.URL+"/ivxp/orders/"+orderID+"/payment",
			signedPayment(t, orderID, testTxHash))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, ivxp.ErrCodePaymentVerificationFailed, errorCodeOf(t, raw))
	})

	t.Run("unknown order is 404", func(t *testing.T) {
		resp, raw := doJSON(t, http.MethodPost,
			server.URL+"/ivxp/orders/ivxp-missing/payment",
			signedPayment(t, "ivxp-missing", "0x"+strings.Repeat("ef", 32)))
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, ivxp.ErrCodeOrderNotFound, errorCodeOf(t, raw))
	})
}

func TestServerStatusAndDownloadRoutes(t *testing.T) {
	p := newTestProvider(t, nil)
	server := newTestServer(t, p)
	orderID := quoteOrder(t, p)

	for _, path := range []string{"/ivxp/orders/" + orderID, "/ivxp/status/" + orderID} {
		resp, raw := doJSON(t, http.MethodGet, server.URL+path, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
		status, err := wire.ValidateOrderStatus(raw)
		require.NoError(t, err, path)
		assert.Equal(t, string(ivxp.StatusQuoted), status.Status)
	}

	t.Run("deliverable not ready is 404", func(t *testing.T) {
		resp, raw := doJSON(t, http.MethodGet, server.URL+"/ivxp/orders/"+orderID+"/deliverable", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, ivxp.ErrCodeDeliverableNotReady, errorCodeOf(t, raw))
	})

	t.Run("both download routes serve the deliverable", func(t *testing.T) {
		_, err := p.AcceptPayment(context.Background(), orderID, signedPayment(t, orderID, testTxHash))
		require.NoError(t, err)
		waitForStatus(t, p, orderID, ivxp.StatusDelivered)

		for _, path := range []string{"/ivxp/orders/" + orderID + "/deliverable", "/ivxp/download/" + orderID} {
			resp, raw := doJSON(t, http.MethodGet, server.URL+path, nil)
			require.Equal(t, http.StatusOK, resp.StatusCode, path)
			delivery, err := wire.ValidateDeliveryResponse(raw)
			require.NoError(t, err, path)
			assert.Equal(t, "result for "+orderID, delivery.Content)
		}
	})
}

func TestServerConfirmRoute(t *testing.T) {
	p := newTestProvider(t, nil)
	server := newTestServer(t, p)
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
		Envelope:     wire.NewEnvelope(ivxp.MessageTypeDeliveryConfirmation),
		OrderID:      orderID,
		Confirmation: wire.ConfirmationBody{Message: message, Signature: signature, Signer: clientAddr},
	}

	resp, raw := doJSON(t, http.MethodPost, server.URL+"/ivxp/orders/"+orderID+"/confirm", confirmation)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	var body wire.ConfirmationResponse
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, "confirmed", body.Status)

	// The retry carries the dedicated code so clients can treat it as success.
	resp, raw = doJSON(t, http.MethodPost, server.URL+"/ivxp/orders/"+orderID+"/confirm", confirmation)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, ivxp.ErrCodeOrderAlreadyConfirmed, errorCodeOf(t, raw))
}

func TestServerStreamRoute(t *testing.T) {
	p := newTestProvider(t, nil)
	server := newTestServer(t, p)
	orderID := quoteOrder(t, p)

	t.Run("unknown order is 404", func(t *testing.T) {
		resp, raw := doJSON(t, http.MethodGet, server.URL+"/ivxp/stream/ivxp-missing", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, ivxp.ErrCodeOrderNotFound, errorCodeOf(t, raw))
	})

	t.Run("stream replays current status and ends on terminal", func(t *testing.T) {
		_, err := p.AcceptPayment(context.Background(), orderID, signedPayment(t, orderID, testTxHash))
		require.NoError(t, err)
		waitForStatus(t, p, orderID, ivxp.StatusDelivered)

		resp, err := http.Get(server.URL + "/ivxp/stream/" + orderID)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

		scanner := bufio.NewScanner(resp.Body)
		var lines []string
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
		}
		joined := strings.Join(lines, "\n")
		assert.Contains(t, joined, "event:"+wire.SSEEventCompleted)
		assert.Contains(t, joined, orderID)
	})
}

func TestServerStartStop(t *testing.T) {
	p := newTestProvider(t, nil)
	p.config.Host = "127.0.0.1"
	p.config.Port = 0 // let the OS pick a free port

	server := NewServer(p)
	require.NoError(t, server.Start())
	require.NotEmpty(t, server.URL())

	resp, err := http.Get(server.URL() + "/ivxp/catalog")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, server.Stop(context.Background()))
	assert.NoError(t, server.Stop(context.Background()), "stop is idempotent")
}
