// Package viewer streams the render world to remote viewers over WebSocket.
//
// Chunk spawns and despawns are sent as JSON text frames. Chunk meshes
// follow their spawn message in binary frames. Viewers may drive the remote
// camera by sending camera messages.
package viewer

import (
	"context"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"golang.org/x/net/websocket"

	"github.com/aukilabs/terrain/render"
)

const (
	sendChanSize    = 512
	receiveChanSize = 64
)

// Receiver receives a message from a viewer and returns the number of bytes
// read.
type Receiver func() (Msg, int, error)

// Sender sends a frame to a viewer and returns the number of bytes written.
type Sender func(Frame) (int, error)

// ResponseSender queues frames to be sent to the viewer.
type ResponseSender interface {
	// Sends a JSON message.
	Send(msg Msg)

	// Sends a frame.
	SendFrame(f Frame)
}

// Handler represents a viewer connection handler.
type Handler interface {
	// Handles a viewer connection.
	HandleConnect(conn *websocket.Conn)

	// Sends the greeting and the current chunks, then subscribes to world
	// events.
	HandleSubscribe(ctx context.Context, respond ResponseSender) error

	// Handles a ping request.
	HandlePing(ctx context.Context, respond ResponseSender, msg Msg) error

	// Handles a camera position sent by the viewer.
	HandleCamera(ctx context.Context, respond ResponseSender, msg Msg) error

	// Forwards a world event to the viewer.
	HandleWorldEvent(ctx context.Context, respond ResponseSender, e render.Event) error

	// Sends the streaming stats to the viewer.
	SendStats(ctx context.Context, respond ResponseSender) error

	// Handles a viewer's disconnection.
	HandleDisconnect(error)

	// The world events received after subscribing. The channel is closed
	// when the viewer falls behind.
	Events() <-chan render.Event

	// Creates a message receiver used to receive incoming messages.
	Receiver() Receiver

	// Creates a frame sender used to send outgoing frames.
	Sender() Sender

	// Closes the handler and releases its allocated resources.
	Close()

	// The interval between each stats message. Zero disables them.
	StatsInterval() time.Duration

	// The time a viewer is idle before being disconnected.
	IdleTimeout() time.Duration

	// The id of the viewer session.
	GetSessionID() string
}

// Handle runs the given handler on a viewer connection until it is closed.
func Handle(ctx context.Context, conn *websocket.Conn, h Handler) {
	handler := handler{
		Conn:    conn,
		Handler: h,
	}

	handler.Handle(ctx)
}

type handler struct {
	// The WebSocket connection.
	Conn *websocket.Conn

	// The viewer handler.
	Handler Handler

	sendChan       chan Frame
	sendingDone    chan struct{}
	receiveChan    chan Msg
	sender         Sender
	receiver       Receiver
	disconnectChan chan error
}

func (h *handler) Handle(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	h.Handler.HandleConnect(h.Conn)

	h.disconnectChan = make(chan error, 8)
	defer func() {
		for len(h.disconnectChan) != 0 {
			<-h.disconnectChan
		}
	}()

	var wg sync.WaitGroup

	h.sendChan = make(chan Frame, sendChanSize)
	h.sendingDone = make(chan struct{})
	h.sender = h.Handler.Sender()

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.startSending(ctx)
	}()

	var responder = responseSender{
		send:      h.send,
		sendFrame: h.sendFrame,
	}

	if err := h.Handler.HandleSubscribe(ctx, responder); err != nil {
		h.disconnect(errors.New("subscribing to the world failed").Wrap(err))
	}

	h.receiveChan = make(chan Msg, receiveChanSize)
	h.receiver = h.Handler.Receiver()
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.startReceiving(ctx)
	}()

	idleTimeout := h.Handler.IdleTimeout()
	idleTimer := time.NewTimer(idleTimeout)
	defer idleTimer.Stop()

	var stats <-chan time.Time
	if interval := h.Handler.StatsInterval(); interval > 0 {
		statsTicker := time.NewTicker(interval)
		defer statsTicker.Stop()
		stats = statsTicker.C
	}

	events := h.Handler.Events()

	var disconnectErr error

loop:
	for {
		select {
		case <-ctx.Done():
			disconnectErr = ctx.Err()
			break loop

		case <-idleTimer.C:
			h.disconnect(errors.New("idle connection").WithTag("duration", idleTimeout))

		case <-stats:
			if err := h.Handler.SendStats(ctx, responder); err != nil {
				h.disconnect(errors.New("sending stats failed").Wrap(err))
			}

		case e, ok := <-events:
			if !ok {
				events = nil
				h.disconnect(errors.New("viewer is too slow").WithType(ErrTypeSlowViewer))
				continue
			}

			if err := h.Handler.HandleWorldEvent(ctx, responder, e); err != nil {
				h.disconnect(errors.New("forwarding world event failed").Wrap(err))
			}

		case msg := <-h.receiveChan:
			idleTimer.Stop()
			idleTimer.Reset(idleTimeout)

			if err := h.handleMessage(ctx, msg, responder); err != nil {
				h.disconnect(errors.New("handling message failed").Wrap(err))
			}

		case err := <-h.disconnectChan:
			disconnectErr = err
			break loop
		}
	}

	// cancel context so go routines can cleanly exit
	cancel()
	h.handleDisconnect(disconnectErr)
	wg.Wait()
}

func (h *handler) send(msg Msg) {
	f, err := TextFrame(msg)
	if err != nil {
		logs.WithTag("session_id", h.Handler.GetSessionID()).
			Debug(err)
		return
	}
	h.sendFrame(f)
}

func (h *handler) sendFrame(f Frame) {
	select {
	case h.sendChan <- f:
	case <-h.sendingDone:
	}
}

func (h *handler) startSending(ctx context.Context) {
	defer close(h.sendingDone)
	defer func() {
		for len(h.sendChan) != 0 {
			<-h.sendChan
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case f := <-h.sendChan:
			if _, err := h.sender(f); err != nil {
				h.disconnect(errors.New("sending frame failed").Wrap(err))
				return
			}
		}
	}
}

func (h *handler) startReceiving(ctx context.Context) {
	for {
		msg, _, err := h.receiver()
		if err != nil {
			h.disconnect(errors.New("receiving message failed").Wrap(err))
			return
		}

		select {
		case <-ctx.Done():
			return
		case h.receiveChan <- msg:
		}
	}
}

func (h *handler) handleMessage(ctx context.Context, msg Msg, responder ResponseSender) error {
	var err error

	switch msg.Type {
	case MsgTypePing:
		err = h.Handler.HandlePing(ctx, responder, msg)

	case MsgTypeCamera:
		err = h.Handler.HandleCamera(ctx, responder, msg)

	default:
		responder.Send(Msg{
			Type:      MsgTypeError,
			RequestID: msg.RequestID,
			Error:     "unsupported message type: " + string(msg.Type),
		})
	}

	if errors.IsType(err, ErrTypeMsgSkip) {
		return nil
	}
	return err
}

func (h *handler) disconnect(err error) {
	select {
	case h.disconnectChan <- err:
	default:
	}
}

func (h *handler) handleDisconnect(err error) {
	h.Conn.Close()
	h.Handler.HandleDisconnect(err)
}

type responseSender struct {
	send      func(Msg)
	sendFrame func(Frame)
}

func (r responseSender) Send(msg Msg) {
	r.send(msg)
}

func (r responseSender) SendFrame(f Frame) {
	r.sendFrame(f)
}
