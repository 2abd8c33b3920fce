package client

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	ivxp "github.com/ivxp/ivxp-go"
	"github.com/ivxp/ivxp-go/wire"
)

// Delivery is a verified push delivery received by the callback server.
type Delivery struct {
	OrderID     string
	Content     []byte
	ContentType string
	ContentHash string
	Binary      bool
}

// Rejection describes a push delivery that failed hash verification.
type Rejection struct {
	OrderID      string `json:"orderId"`
	Reason       string `json:"reason"`
	ExpectedHash string `json:"expectedHash"`
	ComputedHash string `json:"computedHash"`
}

// CallbackConfig configures the push-delivery receiver.
type CallbackConfig struct {
	// Host defaults to loopback; Port 0 asks the OS for a free port.
	Host string
	Port int

	OnDelivery func(Delivery)
	OnRejected func(Rejection)
	Events     *ivxp.EventEmitter
}

// CallbackServer receives push deliveries on POST /ivxp/callback, verifies
// the declared content hash, and emits typed events.
type CallbackServer struct {
	config   CallbackConfig
	server   *http.Server
	listener net.Listener
	stopOnce sync.Once
}

// NewCallbackServer creates an unstarted callback server.
func NewCallbackServer(config CallbackConfig) *CallbackServer {
	if config.Host == "" {
		config.Host = "127.0.0.1"
	}
	if config.Events == nil {
		config.Events = ivxp.NewEventEmitter()
	}
	return &CallbackServer{config: config}
}

// Start binds the listener and begins serving. The bound address (and thus
// the OS-assigned port) is available through URL afterwards.
func (s *CallbackServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return ivxp.WrapError(ivxp.ErrCodeInvalidRequestParams, fmt.Sprintf("failed to listen on %s", addr), err)
	}
	s.listener = listener

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.POST("/ivxp/callback", s.handleCallback)

	s.server = &http.Server{Handler: router}
	go s.server.Serve(listener) //nolint:errcheck // Serve returns ErrServerClosed on Stop

	return nil
}

// URL returns the callback endpoint, valid after Start.
func (s *CallbackServer) URL() string {
	if s.listener == nil {
		return ""
	}
	return fmt.Sprintf("http://%s/ivxp/callback", s.listener.Addr().String())
}

// Stop drains in-flight requests and closes the listener. Idempotent.
func (s *CallbackServer) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		if s.server != nil {
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			err = s.server.Shutdown(shutdownCtx)
		}
	})
	return err
}

func (s *CallbackServer) handleCallback(c *gin.Context) {
	var body wire.DeliveryResponse
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, wire.ErrorResponse{Error: "Invalid request"})
		return
	}
	if body.OrderID == "" || body.ContentHash == "" || body.ContentType == "" {
		c.JSON(http.StatusBadRequest, wire.ErrorResponse{Error: "Missing required fields: order_id, content_hash, content_type"})
		return
	}

	content, binary, err := decodeContent(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, wire.ErrorResponse{Error: "Invalid request"})
		return
	}

	computed := ivxp.HashBytes(content)
	if computed != body.ContentHash {
		rejection := Rejection{
			OrderID:      body.OrderID,
			Reason:       ivxp.ErrCodeHashMismatch,
			ExpectedHash: body.ContentHash,
			ComputedHash: computed,
		}
		s.config.Events.Emit(ivxp.EventDeliveryRejected, rejection)
		if s.config.OnRejected != nil {
			s.config.OnRejected(rejection)
		}
		c.JSON(http.StatusBadRequest, wire.ErrorResponse{
			Error: "content hash mismatch",
			Code:  ivxp.ErrCodeHashMismatch,
		})
		return
	}

	delivery := Delivery{
		OrderID:     body.OrderID,
		Content:     content,
		ContentType: body.ContentType,
		ContentHash: body.ContentHash,
		Binary:      binary,
	}
	s.config.Events.Emit(ivxp.EventDeliveryReceived, delivery)
	if s.config.OnDelivery != nil {
		s.config.OnDelivery(delivery)
	}
	c.JSON(http.StatusOK, gin.H{"order_id": body.OrderID, "status": "received"})
}

// decodeContent returns the raw bytes the content hash covers. Binary
// payloads travel base64-encoded with an explicit marker.
func decodeContent(body wire.DeliveryResponse) (content []byte, binary bool, err error) {
	if body.ContentEncoding == "base64" {
		raw, err := base64.StdEncoding.DecodeString(body.Content)
		if err != nil {
			return nil, false, err
		}
		return raw, true, nil
	}
	return []byte(body.Content), false, nil
}
