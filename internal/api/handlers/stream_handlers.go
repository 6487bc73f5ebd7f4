package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/rail-service/deposit_watcher/internal/domain/entities"
	"github.com/rail-service/deposit_watcher/pkg/logger"
)

// DepositWatcher binds sessions to deposit monitors
type DepositWatcher interface {
	Watch(ctx context.Context, req entities.WatchRequest) error
	Release(key entities.MonitorKey)
}

// StreamQuery is the query string of the stream endpoint
type StreamQuery struct {
	Chain    string `form:"chain" validate:"required,alphanum,max=32"`
	Currency string `form:"currency" validate:"required,alphanum,max=16"`
	Address  string `form:"address" validate:"required,printascii,min=24,max=128"`
}

// StreamHandler serves the deposit event websocket
type StreamHandler struct {
	engine    DepositWatcher
	hub       *StreamHub
	upgrader  websocket.Upgrader
	validator *validator.Validate
	logger    *logger.Logger
}

// NewStreamHandler creates a stream handler. allowedOrigins follows the CORS
// configuration; "*" accepts any origin.
func NewStreamHandler(engine DepositWatcher, hub *StreamHub, allowedOrigins []string, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		engine: engine,
		hub:    hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		validator: validator.New(),
		logger:    log,
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

// Stream upgrades the request to a websocket and pushes deposit events for
// (chain, currency, address) until the client disconnects
// @Summary Deposit event stream
// @Tags deposits
// @Param chain query string true "Chain name"
// @Param currency query string true "Currency symbol"
// @Param address query string true "Deposit address"
// @Router /api/v1/deposits/stream [get]
func (h *StreamHandler) Stream(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		SendUnauthorized(c, "X-User-ID header required")
		return
	}

	var query StreamQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		SendBadRequest(c, ErrCodeInvalidRequest, "Invalid query parameters", map[string]interface{}{"error": err.Error()})
		return
	}
	query.Chain = strings.TrimSpace(query.Chain)
	query.Currency = strings.TrimSpace(query.Currency)
	query.Address = strings.TrimSpace(query.Address)
	if err := h.validator.Struct(query); err != nil {
		h.logger.Warn("Request validation failed", "error", err)
		SendBadRequest(c, ErrCodeValidationError, "Request validation failed", map[string]interface{}{
			"validation_errors": err.Error(),
		})
		return
	}

	req := entities.WatchRequest{
		UserID:   userID,
		Chain:    cases.Lower(language.Und).String(query.Chain),
		Currency: cases.Upper(language.Und).String(query.Currency),
		Address:  query.Address,
	}

	if err := h.engine.Watch(c.Request.Context(), req); err != nil {
		h.logger.Warn("Failed to start deposit watch", "user_id", req.UserID, "chain", req.Chain, "error", err)
		SendDomainError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", "error", err)
		h.engine.Release(req.Key())
		return
	}

	route := req.Route()
	client := h.hub.Subscribe(route, conn)
	h.logger.Info("Deposit stream opened", "user_id", req.UserID, "route", route.String())

	defer func() {
		h.hub.Unsubscribe(route, client)
		h.engine.Release(req.Key())
		h.logger.Info("Deposit stream closed", "user_id", req.UserID, "route", route.String())
	}()

	h.readPump(conn, client)
}

// readPump discards client frames and returns when the connection drops
func (h *StreamHandler) readPump(conn *websocket.Conn, client *StreamClient) {
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-client.Done():
			return
		default:
		}
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
