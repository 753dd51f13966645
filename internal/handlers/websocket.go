package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"DROWSY_DETECTOR/go-backend/internal/config"
	"DROWSY_DETECTOR/go-backend/internal/detection"
	"DROWSY_DETECTOR/go-backend/internal/processor"
	"DROWSY_DETECTOR/go-backend/internal/services"
	"DROWSY_DETECTOR/go-backend/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Message types on the WebSocket protocol.
const (
	MessageTypeWelcome         = "WELCOME"
	MessageTypePing            = "PING"
	MessageTypePong            = "PONG"
	MessageTypeFrame           = "FRAME"
	MessageTypeDetectionResult = "DETECTION_RESULT"
	MessageTypeCameraStatus    = "CAMERA_STATUS"
	MessageTypeSessionStarted  = "SESSION_STARTED"
	MessageTypeSessionEnded    = "SESSION_ENDED"
	MessageTypeAlert           = "ALERT"
	MessageTypeError           = "ERROR"
)

// WSMessage is the envelope for every message in both directions.
type WSMessage struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	ClientID  string          `json:"client_id,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

type framePayload struct {
	Frame string `json:"frame"`
}

type cameraStatusPayload struct {
	Status string `json:"status"`
}

// Hub accepts WebSocket clients and runs one detection pipeline per client.
type Hub struct {
	cfg     *config.Config
	source  services.SignalSource
	events  processor.EventLogger
	manager *session.Manager
	metrics *services.Metrics
	logger  *zap.Logger

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*wsClient
}

func NewHub(
	cfg *config.Config,
	source services.SignalSource,
	events processor.EventLogger,
	manager *session.Manager,
	metrics *services.Metrics,
	logger *zap.Logger,
) *Hub {
	return &Hub{
		cfg:     cfg,
		source:  source,
		events:  events,
		manager: manager,
		metrics: metrics,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*wsClient),
	}
}

// wsClient is one connected camera stream with its own debounce pipeline.
type wsClient struct {
	id     string
	conn   *websocket.Conn
	hub    *Hub
	logger *zap.Logger

	send   chan WSMessage
	frames chan []byte

	proc *processor.Processor
	sink *services.ChannelSink

	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if len(h.clients) >= h.cfg.MaxConnections {
		h.mu.Unlock()
		h.logger.Warn("connection limit reached, rejecting client")
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}
	h.mu.Unlock()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	clientID := uuid.New().String()
	logger := h.logger.With(zap.String("client_id", clientID))
	sink := services.NewChannelSink(logger)
	c := &wsClient{
		id:     clientID,
		conn:   conn,
		hub:    h,
		logger: logger,
		send:   make(chan WSMessage, 32),
		frames: make(chan []byte, 1),
		sink:   sink,
		proc: processor.New(
			h.source,
			detection.NewEngine(h.cfg.ClosedFrames),
			sink,
			h.events,
			h.manager,
			h.metrics,
			logger,
		),
		cancel: cancel,
	}

	h.mu.Lock()
	h.clients[clientID] = c
	h.mu.Unlock()
	h.metrics.IncrementWebSocketConnections()
	logger.Info("client connected")

	// A fresh connection means any still-open session belongs to a dead one.
	if err := h.manager.ReconcileDangling(ctx); err != nil {
		logger.Warn("failed to reconcile dangling sessions", zap.Error(err))
	}

	c.enqueue(WSMessage{
		Type:      MessageTypeWelcome,
		ClientID:  clientID,
		Timestamp: time.Now().UnixMilli(),
	})

	go c.writePump()
	go c.processFrames(ctx)
	go c.forwardAlerts(ctx)
	go c.readPump(ctx)
}

func (c *wsClient) enqueue(msg WSMessage) {
	select {
	case c.send <- msg:
	default:
		c.hub.metrics.IncrementWebSocketErrors()
		c.logger.Warn("send buffer full, dropping message", zap.String("type", msg.Type))
	}
}

func (c *wsClient) enqueuePayload(msgType string, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error("failed to marshal payload", zap.String("type", msgType), zap.Error(err))
		return
	}
	c.enqueue(WSMessage{
		Type:      msgType,
		Payload:   raw,
		ClientID:  c.id,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (c *wsClient) readPump(ctx context.Context) {
	defer c.teardown()

	c.conn.SetReadLimit(int64(c.hub.cfg.MaxMessageSizeMB) * 1024 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("unexpected close", zap.Error(err))
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.hub.metrics.IncrementWebSocketErrors()
			c.enqueuePayload(MessageTypeError, map[string]string{"error": "invalid message"})
			continue
		}
		c.hub.metrics.IncrementWebSocketMessages()

		switch msg.Type {
		case MessageTypePing:
			c.enqueue(WSMessage{Type: MessageTypePong, ClientID: c.id, Timestamp: time.Now().UnixMilli()})

		case MessageTypeFrame:
			c.handleFrame(msg.Payload)

		case MessageTypeCameraStatus:
			c.handleCameraStatus(ctx, msg.Payload)

		default:
			c.logger.Debug("unknown message type", zap.String("type", msg.Type))
		}
	}
}

// handleFrame drops the frame into the processing slot. If a frame is already
// waiting it is replaced: processing the newest frame matters more than
// processing every frame.
func (c *wsClient) handleFrame(payload json.RawMessage) {
	var p framePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.enqueuePayload(MessageTypeError, map[string]string{"error": "invalid frame payload"})
		return
	}
	frame, err := base64.StdEncoding.DecodeString(p.Frame)
	if err != nil {
		c.enqueuePayload(MessageTypeError, map[string]string{"error": "invalid frame encoding"})
		return
	}

	for {
		select {
		case c.frames <- frame:
			return
		default:
			select {
			case <-c.frames:
				c.hub.metrics.IncrementDroppedFrames()
			default:
			}
		}
	}
}

func (c *wsClient) handleCameraStatus(ctx context.Context, payload json.RawMessage) {
	var p cameraStatusPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.enqueuePayload(MessageTypeError, map[string]string{"error": "invalid status payload"})
		return
	}

	switch p.Status {
	case "started":
		id, err := c.hub.manager.Start(ctx)
		if err != nil {
			c.logger.Error("failed to start session", zap.Error(err))
			c.enqueuePayload(MessageTypeError, map[string]string{"error": "failed to start session"})
			return
		}
		c.enqueuePayload(MessageTypeSessionStarted, map[string]string{"session_id": id})

	case "stopped":
		c.proc.StopAlert()
		id := c.hub.manager.Current()
		if _, err := c.hub.manager.End(ctx, id); err != nil {
			c.logger.Error("failed to end session", zap.Error(err))
			c.enqueuePayload(MessageTypeError, map[string]string{"error": "failed to end session"})
			return
		}
		c.enqueuePayload(MessageTypeSessionEnded, map[string]string{"session_id": id})

	default:
		c.logger.Debug("unknown camera status", zap.String("status", p.Status))
	}
}

// processFrames drains the frame slot through the detection pipeline.
func (c *wsClient) processFrames(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-c.frames:
			status, err := c.proc.Process(ctx, frame)
			if err != nil {
				c.logger.Warn("frame processing failed", zap.Error(err))
				c.enqueuePayload(MessageTypeError, map[string]string{"error": "detection unavailable"})
				continue
			}
			c.enqueuePayload(MessageTypeDetectionResult, status)
		}
	}
}

// forwardAlerts relays play/stop commands from the pipeline to the client.
func (c *wsClient) forwardAlerts(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-c.sink.Commands():
			c.enqueuePayload(MessageTypeAlert, cmd)
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.teardown()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// teardown runs once per client: silence the alert, end the session this
// stream was feeding, and release the connection.
func (c *wsClient) teardown() {
	c.closeOnce.Do(func() {
		c.cancel()

		c.proc.StopAlert()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if id := c.hub.manager.Current(); id != "" {
			if _, err := c.hub.manager.End(ctx, id); err != nil {
				c.logger.Error("failed to end session on disconnect",
					zap.String("session_id", id), zap.Error(err))
			}
		}

		c.hub.mu.Lock()
		delete(c.hub.clients, c.id)
		c.hub.mu.Unlock()
		c.hub.metrics.DecrementWebSocketConnections()

		c.conn.Close()
		c.logger.Info("client disconnected")
	})
}
