package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	ivxp "github.com/ivxp/ivxp-go"
	"github.com/ivxp/ivxp-go/wire"
)

// Server exposes a Provider over the IVXP/1.0 HTTP surface.
type Server struct {
	provider *Provider
	server   *http.Server
	listener net.Listener
	stopOnce sync.Once
}

// NewServer wires the provider's routes into a gin engine.
func NewServer(p *Provider) *Server {
	s := &Server{provider: p}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.limitBody)
	router.RemoveExtraSlash = true
	router.HandleMethodNotAllowed = true

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, wire.ErrorResponse{Error: "Not found"})
	})
	router.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, wire.ErrorResponse{Error: "Method not allowed"})
	})

	router.GET("/ivxp/catalog", s.handleCatalog)
	router.POST("/ivxp/request", s.handleRequest)
	router.POST("/ivxp/orders/:id/payment", s.handlePayment)
	router.POST("/ivxp/deliver", s.handleLegacyPayment)
	router.GET("/ivxp/orders/:id", s.handleStatus)
	router.GET("/ivxp/status/:id", s.handleStatus)
	router.GET("/ivxp/orders/:id/deliverable", s.handleDownload)
	router.GET("/ivxp/download/:id", s.handleDownload)
	router.POST("/ivxp/orders/:id/confirm", s.handleConfirm)
	router.GET("/ivxp/stream/:id", s.handleStream)

	s.server = &http.Server{Handler: router}
	return s
}

// Handler exposes the routed engine, for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start binds the configured address and serves until Stop.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.provider.config.Host, s.provider.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return ivxp.WrapError(ivxp.ErrCodeInvalidProviderConfig,
			fmt.Sprintf("failed to listen on %s", addr), err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("ivxp: provider server stopped: %v", err)
		}
	}()
	return nil
}

// URL returns the bound base address, valid after Start.
func (s *Server) URL() string {
	if s.listener == nil {
		return ""
	}
	return "http://" + s.listener.Addr().String()
}

// Stop drains in-flight requests and waits for order processing goroutines.
// Idempotent.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		err = s.server.Shutdown(shutdownCtx)
		s.provider.processing.Wait()
	})
	return err
}

// limitBody caps request bodies. Oversized bodies fail with 413 before any
// handler parses them.
func (s *Server) limitBody(c *gin.Context) {
	limit := s.provider.config.MaxBodyBytes
	if c.Request.ContentLength > limit {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, wire.ErrorResponse{
			Error: "Request body too large",
			Code:  ivxp.ErrCodeRequestTooLarge,
		})
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	c.Next()
}

// readBody drains the capped request body with stable, generic error replies.
func readBody(c *gin.Context) ([]byte, bool) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, wire.ErrorResponse{
				Error: "Request body too large",
				Code:  ivxp.ErrCodeRequestTooLarge,
			})
			return nil, false
		}
		c.JSON(http.StatusBadRequest, wire.ErrorResponse{Error: "Invalid request"})
		return nil, false
	}
	return raw, true
}

// bindJSON decodes the request body without schema checks.
func bindJSON(c *gin.Context, raw []byte, out interface{}) bool {
	if err := json.Unmarshal(raw, out); err != nil {
		c.JSON(http.StatusBadRequest, wire.ErrorResponse{Error: "Invalid request"})
		return false
	}
	return true
}

// schemaReject answers a body that parsed as JSON but failed the wire schema,
// for example a malformed address or tx hash pattern.
func schemaReject(c *gin.Context) {
	c.JSON(http.StatusBadRequest, wire.ErrorResponse{
		Error: "Invalid request",
		Code:  ivxp.ErrCodeInvalidRequestParams,
	})
}

// replyError maps a coded error onto the HTTP surface. Uncoded errors become
// a sanitized 500; internals never leak into the body.
func replyError(c *gin.Context, err error) {
	var pe *ivxp.ProtocolError
	if !errors.As(err, &pe) {
		log.Printf("ivxp: internal error on %s: %v", c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, wire.ErrorResponse{Error: "Internal server error"})
		return
	}

	status := http.StatusBadRequest
	switch pe.Code {
	case ivxp.ErrCodeOrderNotFound, ivxp.ErrCodeServiceNotFound, ivxp.ErrCodeDeliverableNotReady:
		status = http.StatusNotFound
	case ivxp.ErrCodeRequestTooLarge:
		status = http.StatusRequestEntityTooLarge
	}
	c.JSON(status, wire.ErrorResponse{Error: pe.Message, Code: pe.Code})
}

func (s *Server) handleCatalog(c *gin.Context) {
	c.JSON(http.StatusOK, s.provider.Catalog())
}

func (s *Server) handleRequest(c *gin.Context) {
	raw, ok := readBody(c)
	if !ok {
		return
	}
	var request wire.ServiceRequest
	if !bindJSON(c, raw, &request) {
		return
	}
	if request.ServiceRequest.Type == "" || request.ClientAgent.WalletAddress == "" {
		c.JSON(http.StatusBadRequest, wire.ErrorResponse{
			Error: "Missing required fields: service_request.type, client_agent.wallet_address",
		})
		return
	}
	if _, err := wire.ValidateServiceRequest(raw); err != nil {
		schemaReject(c)
		return
	}

	quote, err := s.provider.Quote(c.Request.Context(), request)
	if err != nil {
		replyError(c, err)
		return
	}
	c.JSON(http.StatusOK, quote)
}

func (s *Server) handlePayment(c *gin.Context) {
	s.acceptPayment(c, c.Param("id"))
}

// handleLegacyPayment serves the pre-1.0 payment route, which carries the
// order id in the body instead of the path.
func (s *Server) handleLegacyPayment(c *gin.Context) {
	s.acceptPayment(c, "")
}

func (s *Server) acceptPayment(c *gin.Context, orderID string) {
	raw, ok := readBody(c)
	if !ok {
		return
	}
	var request wire.DeliveryRequest
	if !bindJSON(c, raw, &request) {
		return
	}
	if orderID == "" {
		orderID = request.OrderID
	}
	if orderID == "" || request.PaymentProof.TxHash == "" || request.Signature == "" || request.SignedMessage == "" {
		c.JSON(http.StatusBadRequest, wire.ErrorResponse{
			Error: "Missing required fields: order_id, payment_proof.tx_hash, signature, signed_message",
		})
		return
	}
	if _, err := wire.ValidateDeliveryRequest(raw); err != nil {
		schemaReject(c)
		return
	}

	accepted, err := s.provider.AcceptPayment(c.Request.Context(), orderID, request)
	if err != nil {
		replyError(c, err)
		return
	}
	c.JSON(http.StatusOK, accepted)
}

func (s *Server) handleStatus(c *gin.Context) {
	status, err := s.provider.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		replyError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleDownload(c *gin.Context) {
	response, err := s.provider.Deliverable(c.Request.Context(), c.Param("id"))
	if err != nil {
		replyError(c, err)
		return
	}
	c.JSON(http.StatusOK, response)
}

func (s *Server) handleConfirm(c *gin.Context) {
	raw, ok := readBody(c)
	if !ok {
		return
	}
	var request wire.DeliveryConfirmation
	if !bindJSON(c, raw, &request) {
		return
	}
	if request.Confirmation.Message == "" || request.Confirmation.Signature == "" {
		c.JSON(http.StatusBadRequest, wire.ErrorResponse{
			Error: "Missing required fields: confirmation.message, confirmation.signature",
		})
		return
	}
	if _, err := wire.ValidateDeliveryConfirmation(raw); err != nil {
		schemaReject(c)
		return
	}

	response, err := s.provider.Confirm(c.Request.Context(), c.Param("id"), request)
	if err != nil {
		replyError(c, err)
		return
	}
	c.JSON(http.StatusOK, response)
}

// handleStream serves the order status event stream. The current status is
// replayed immediately so late subscribers never miss the terminal event.
func (s *Server) handleStream(c *gin.Context) {
	orderID := c.Param("id")
	order, err := s.provider.orders.Get(c.Request.Context(), orderID)
	if err != nil {
		replyError(c, err)
		return
	}
	if order == nil {
		replyError(c, ivxp.NewError(ivxp.ErrCodeOrderNotFound, fmt.Sprintf("order %s not found", orderID)))
		return
	}

	events, cancel := s.provider.streams.subscribe(orderID)
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	initial := streamEvent{
		name:   wire.SSEEventStatusUpdate,
		status: wire.StreamStatus{OrderID: orderID, Status: string(order.Status)},
	}
	switch order.Status {
	case ivxp.StatusDelivered, ivxp.StatusConfirmed:
		initial.name = wire.SSEEventCompleted
		initial.terminal = true
	case ivxp.StatusDeliveryFailed:
		initial.name = wire.SSEEventFailed
		initial.terminal = true
	}
	c.Render(http.StatusOK, initial.render())
	c.Writer.Flush()
	if initial.terminal {
		return
	}

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case event, ok := <-events:
			if !ok {
				return false
			}
			c.Render(http.StatusOK, event.render())
			return !event.terminal
		}
	})
}
