package httpapi

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"voip-callkit/internal/callkit"
	"voip-callkit/internal/calls"
	"voip-callkit/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	subscriberBuffer = 64
	writeWait        = 10 * time.Second
	pingPeriod       = 30 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Frame types sent on the event stream.
const (
	FrameReady  = "ready"
	FrameAction = "action"
	FrameToken  = "token"
)

type Frame struct {
	Type         string       `json:"type"`
	SubscriberID string       `json:"subscriber_id,omitempty"`
	Event        *calls.Event `json:"event,omitempty"`
	Token        string       `json:"token,omitempty"`
}

// EventStream exposes the controller's action and token listeners over a
// websocket. There is one subscriber at a time: a new connection replaces the
// previous one, which is closed.
type EventStream struct {
	calls *callkit.Controller

	mu      sync.Mutex
	current *subscriber
}

func NewEventStream(c *callkit.Controller) *EventStream {
	return &EventStream{calls: c}
}

type subscriber struct {
	id   string
	conn *websocket.Conn
	send chan Frame
	log  *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// push never blocks; it runs inside the controller's listener delivery.
func (s *subscriber) push(f Frame) {
	select {
	case <-s.done:
	case s.send <- f:
	default:
		s.log.Warn("event stream subscriber is slow, frame dropped", "type", f.Type)
	}
}

func (s *subscriber) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// Serve upgrades the request and streams frames until the client goes away
// or is replaced.
func (e *EventStream) Serve(c *gin.Context) {
	log := logger.FromGin(c)
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("upgrade websocket failed", "err", err)
		return
	}

	sub := &subscriber{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan Frame, subscriberBuffer),
		done: make(chan struct{}),
	}
	sub.log = log.With("subscriber_id", sub.id)

	sub.send <- Frame{Type: FrameReady, SubscriberID: sub.id}
	if tok, ok := e.calls.VoIPToken(c.Request.Context()); ok {
		sub.send <- Frame{Type: FrameToken, Token: tok}
	}
	if err := e.attach(sub); err != nil {
		log.Warn("event stream refused", "err", err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "controller closed"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	defer e.detach(sub)

	go e.writeLoop(sub)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (e *EventStream) attach(sub *subscriber) error {
	e.mu.Lock()
	err := e.calls.Subscribe(
		func(ev calls.Event) { sub.push(Frame{Type: FrameAction, Event: &ev}) },
		func(token string) { sub.push(Frame{Type: FrameToken, Token: token}) },
	)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	prev := e.current
	e.current = sub
	e.mu.Unlock()

	if prev != nil {
		prev.log.Info("event stream subscriber replaced", "by", sub.id)
		prev.close()
	}
	sub.log.Info("event stream subscriber attached")
	return nil
}

// detach only unsubscribes when sub is still the current subscriber.
func (e *EventStream) detach(sub *subscriber) {
	e.mu.Lock()
	if e.current == sub {
		e.current = nil
		e.calls.Unsubscribe()
	}
	e.mu.Unlock()
	sub.close()
	sub.log.Info("event stream subscriber detached")
}

func (e *EventStream) writeLoop(sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer sub.close()

	for {
		select {
		case f := <-sub.send:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteJSON(f); err != nil {
				sub.log.Warn("write frame failed", "type", f.Type, "err", err)
				return
			}
		case <-ticker.C:
			if err := sub.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-sub.done:
			return
		}
	}
}

// Subscribed reports whether a client is currently attached.
func (e *EventStream) Subscribed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current != nil
}
