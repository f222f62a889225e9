package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/yourusername/keiba-odds/internal/metrics"
	"github.com/yourusername/keiba-odds/internal/models"
	"github.com/yourusername/keiba-odds/internal/service"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 512

	// Buffer size for outbound messages
	sendBufferSize = 16
)

// Message types pushed to subscribers.
const (
	MessageInitial = "initial"
	MessageUpdate  = "update"
	MessageError   = "error"
)

// SubscriptionMessage is one JSON frame pushed to a subscriber.
type SubscriptionMessage struct {
	Type      string                `json:"type"`
	RaceKey   models.RaceKey        `json:"race_key"`
	Data      *service.OddsEnvelope `json:"data,omitempty"`
	Error     string                `json:"error,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
}

// Hub tracks live odds subscriptions per race.
type Hub struct {
	mu     sync.RWMutex
	byRace map[string]map[*subscriber]struct{}
	logger *logrus.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		byRace: make(map[string]map[*subscriber]struct{}),
		logger: logger,
	}
}

func (h *Hub) register(s *subscriber) {
	h.mu.Lock()
	key := s.raceKey.String()
	if h.byRace[key] == nil {
		h.byRace[key] = make(map[*subscriber]struct{})
	}
	h.byRace[key][s] = struct{}{}
	n := len(h.byRace[key])
	h.mu.Unlock()

	metrics.SubscriptionOpened()
	h.logger.WithFields(logrus.Fields{
		"client_id":   s.id,
		"race_key":    key,
		"subscribers": n,
	}).Info("Odds subscription opened")
}

func (h *Hub) unregister(s *subscriber) {
	h.mu.Lock()
	key := s.raceKey.String()
	subs, ok := h.byRace[key]
	if ok {
		if _, found := subs[s]; !found {
			ok = false
		} else {
			delete(subs, s)
			if len(subs) == 0 {
				delete(h.byRace, key)
			}
		}
	}
	h.mu.Unlock()

	if !ok {
		return
	}
	metrics.SubscriptionClosed()
	h.logger.WithFields(logrus.Fields{
		"client_id": s.id,
		"race_key":  key,
	}).Info("Odds subscription closed")
}

// Count returns the number of open subscriptions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, subs := range h.byRace {
		n += len(subs)
	}
	return n
}

// CountFor returns the number of open subscriptions for one race.
func (h *Hub) CountFor(key models.RaceKey) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byRace[key.String()])
}

// CloseAll stops every subscription.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	all := make([]*subscriber, 0)
	for _, subs := range h.byRace {
		for s := range subs {
			all = append(all, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range all {
		s.stop()
	}
}

// subscriber is one WebSocket connection following one race.
type subscriber struct {
	id      string
	conn    *websocket.Conn
	raceKey models.RaceKey
	source  service.Source
	horizon *int

	svc    DataService
	hub    *Hub
	logger *logrus.Entry

	updateInterval time.Duration
	pingInterval   time.Duration
	pongWait       time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	// pongs carries replies to application-level "ping" text frames.
	pongs chan struct{}
}

func (s *Server) upgrader() websocket.Upgrader {
	allowed := make(map[string]bool, len(s.cfg.CORSOrigins))
	for _, o := range s.cfg.CORSOrigins {
		allowed[o] = true
	}
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowed["*"] || allowed[origin]
		},
	}
}

// handleOddsSubscription serves GET /ws/odds/{raceKey}. Request parameters
// are validated before the upgrade so bad requests get a plain HTTP error.
func (s *Server) handleOddsSubscription(w http.ResponseWriter, r *http.Request) {
	key, src, horizon, err := parseOddsRequest(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if horizon != nil && *horizon < 0 {
		s.respondError(w, r, models.ErrInvalidHorizon)
		return
	}

	up := s.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	id := uuid.New().String()
	ctx, cancel := context.WithCancel(s.baseCtx)
	sub := &subscriber{
		id:             id,
		conn:           conn,
		raceKey:        key,
		source:         src,
		horizon:        horizon,
		svc:            s.svc,
		hub:            s.hub,
		logger:         s.logger.WithFields(logrus.Fields{"client_id": id, "race_key": key.String()}),
		updateInterval: s.cfg.UpdateInterval,
		pingInterval:   s.cfg.PingInterval,
		pongWait:       s.cfg.PongTimeout,
		ctx:            ctx,
		cancel:         cancel,
		pongs:          make(chan struct{}, sendBufferSize),
	}

	s.hub.register(sub)
	go sub.writePump()
	go sub.readPump()
}

func (sub *subscriber) stop() {
	sub.cancel()
}

// readPump handles keepalive and text pings until the peer goes away.
func (sub *subscriber) readPump() {
	defer func() {
		sub.stop()
		sub.hub.unregister(sub)
	}()

	sub.conn.SetReadLimit(maxMessageSize)
	sub.conn.SetReadDeadline(time.Now().Add(sub.pongWait))
	sub.conn.SetPongHandler(func(string) error {
		sub.conn.SetReadDeadline(time.Now().Add(sub.pongWait))
		return nil
	})

	for {
		msgType, data, err := sub.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				sub.logger.WithError(err).Debug("Subscriber closed unexpectedly")
			}
			return
		}
		sub.conn.SetReadDeadline(time.Now().Add(sub.pongWait))
		metrics.RecordSubscriptionMessage("received")

		if msgType == websocket.TextMessage && string(data) == "ping" {
			select {
			case sub.pongs <- struct{}{}:
			default:
			}
		}
	}
}

// writePump owns every write to the connection: the initial envelope,
// periodic updates, pong replies and protocol pings.
func (sub *subscriber) writePump() {
	updates := time.NewTicker(sub.updateInterval)
	pings := time.NewTicker(sub.pingInterval)
	defer func() {
		updates.Stop()
		pings.Stop()
		sub.conn.Close()
	}()

	if err := sub.push(MessageInitial); err != nil {
		return
	}

	for {
		select {
		case <-sub.ctx.Done():
			sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			sub.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-sub.pongs:
			sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.TextMessage, []byte("pong")); err != nil {
				return
			}
			metrics.RecordSubscriptionMessage("pong")

		case <-updates.C:
			if err := sub.push(MessageUpdate); err != nil {
				return
			}

		case <-pings.C:
			sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// push fetches the current envelope and writes it. Lookup failures are
// sent as error frames and keep the subscription open.
func (sub *subscriber) push(msgType string) error {
	ctx, cancel := context.WithTimeout(sub.ctx, sub.updateInterval+writeWait)
	env, err := sub.svc.GetOdds(ctx, sub.raceKey, sub.source, sub.horizon)
	cancel()

	msg := SubscriptionMessage{
		Type:      msgType,
		RaceKey:   sub.raceKey,
		Data:      env,
		Timestamp: time.Now(),
	}
	if err != nil {
		if sub.ctx.Err() != nil {
			return sub.ctx.Err()
		}
		msg.Type = MessageError
		msg.Data = nil
		msg.Error = err.Error()
		sub.logger.WithError(err).Debug("Subscription update failed")
	}

	sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := sub.conn.WriteJSON(msg); err != nil {
		sub.logger.WithError(err).Debug("Subscription write failed")
		return err
	}
	metrics.RecordSubscriptionMessage(msg.Type)
	return nil
}
