package viewer

import (
	"context"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/google/uuid"
	"golang.org/x/net/websocket"
	"golang.org/x/time/rate"

	"github.com/aukilabs/terrain/camera"
	"github.com/aukilabs/terrain/featureflag"
	"github.com/aukilabs/terrain/render"
	"github.com/aukilabs/terrain/terrain"
)

const (
	defaultEventBufferSize = 4096
	defaultIdleTimeout     = time.Minute

	// HeaderViewerID is the header a viewer can set to choose its session
	// id.
	HeaderViewerID = "X-Viewer-Id"
)

// RealtimeHandler streams a render world to a viewer.
type RealtimeHandler struct {
	// The time a viewer is idle before being disconnected.
	ClientIdleTimeout time.Duration

	// The interval between each stats message. Zero disables them.
	ClientStatsInterval time.Duration

	// The world streamed to the viewer.
	World *render.World

	// The camera moved by viewer camera messages. Camera messages are
	// rejected when nil.
	Camera *camera.Remote

	// Returns the stats of the last terrain step.
	Stats func() terrain.Stats

	// The number of camera updates accepted per second, and the burst
	// above it. No limit is applied when zero.
	CameraRate  rate.Limit
	CameraBurst int

	// The number of world events buffered for a viewer before it is
	// considered too slow.
	EventBufferSize int

	FeatureFlags featureflag.FeatureFlag

	conn      *websocket.Conn
	sessionID string
	limiter   *rate.Limiter

	eventsMutex  sync.Mutex
	events       chan render.Event
	eventsClosed bool
	stopListen   func()
}

func (h *RealtimeHandler) HandleConnect(conn *websocket.Conn) {
	h.conn = conn

	h.sessionID = uuid.NewString()
	if req := conn.Request(); req != nil {
		if id, err := uuid.Parse(req.Header.Get(HeaderViewerID)); err == nil {
			h.sessionID = id.String()
		}
	}

	if h.CameraRate > 0 {
		burst := h.CameraBurst
		if burst <= 0 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(h.CameraRate, burst)
	}
}

func (h *RealtimeHandler) HandleSubscribe(ctx context.Context, respond ResponseSender) error {
	if h.World == nil {
		return errors.New("no world to stream")
	}

	size := h.EventBufferSize
	if size <= 0 {
		size = defaultEventBufferSize
	}
	h.events = make(chan render.Event, size)

	snapshot, cancel := h.World.Subscribe(h.pushEvent)
	h.stopListen = cancel

	respond.Send(Msg{
		Type:      MsgTypeHello,
		SessionID: h.sessionID,
	})

	h.FeatureFlags.IfNotSet(featureflag.FlagDisableViewerSnapshot, func() {
		for _, c := range snapshot {
			h.sendChunk(respond, c)
		}
	})
	return nil
}

func (h *RealtimeHandler) pushEvent(e render.Event) {
	h.eventsMutex.Lock()
	defer h.eventsMutex.Unlock()

	if h.eventsClosed {
		return
	}

	select {
	case h.events <- e:
	default:
		h.eventsClosed = true
		close(h.events)
	}
}

func (h *RealtimeHandler) HandlePing(ctx context.Context, respond ResponseSender, msg Msg) error {
	respond.Send(Msg{
		Type:      MsgTypePong,
		RequestID: msg.RequestID,
	})
	return nil
}

func (h *RealtimeHandler) HandleCamera(ctx context.Context, respond ResponseSender, msg Msg) error {
	if h.Camera == nil || h.FeatureFlags.IsSet(featureflag.FlagDisableViewerCamera) {
		respond.Send(Msg{
			Type:      MsgTypeError,
			RequestID: msg.RequestID,
			Error:     "camera is not remotely controlled",
		})
		return nil
	}

	if msg.Camera == nil {
		respond.Send(Msg{
			Type:      MsgTypeError,
			RequestID: msg.RequestID,
			Error:     "missing camera position",
		})
		return nil
	}

	if h.limiter != nil && !h.limiter.Allow() {
		return errors.New("camera update rate limited").
			WithType(ErrTypeMsgSkip).
			WithTag("session_id", h.sessionID)
	}

	h.Camera.Set(*msg.Camera)
	return nil
}

func (h *RealtimeHandler) HandleWorldEvent(ctx context.Context, respond ResponseSender, e render.Event) error {
	switch e.Type {
	case render.EventSpawn:
		h.sendChunk(respond, e.Chunk)

	case render.EventDespawn:
		respond.Send(Msg{
			Type:  MsgTypeDespawn,
			Chunk: ChunkInfoOf(e.Chunk),
		})

	default:
		return errors.New("unknown world event").
			WithTag("event_type", e.Type)
	}
	return nil
}

func (h *RealtimeHandler) sendChunk(respond ResponseSender, c render.Chunk) {
	respond.Send(Msg{
		Type:  MsgTypeSpawn,
		Chunk: ChunkInfoOf(c),
	})

	h.FeatureFlags.IfNotSet(featureflag.FlagDisableViewerMeshes, func() {
		respond.SendFrame(MeshFrame(c))
	})
}

func (h *RealtimeHandler) SendStats(ctx context.Context, respond ResponseSender) error {
	if h.Stats == nil {
		return nil
	}

	stats := h.Stats()
	respond.Send(Msg{
		Type:  MsgTypeStats,
		Stats: &stats,
	})
	return nil
}

func (h *RealtimeHandler) HandleDisconnect(_ error) {
	if h.stopListen != nil {
		h.stopListen()
		h.stopListen = nil
	}
}

func (h *RealtimeHandler) Events() <-chan render.Event {
	return h.events
}

func (h *RealtimeHandler) Receiver() Receiver {
	return func() (Msg, int, error) {
		var f Frame
		if err := frameCodec.Receive(h.conn, &f); err != nil {
			return Msg{}, 0, err
		}

		msg, err := DecodeMsg(f)
		return msg, len(f.Data), err
	}
}

func (h *RealtimeHandler) Sender() Sender {
	return func(f Frame) (int, error) {
		if err := frameCodec.Send(h.conn, f); err != nil {
			return 0, err
		}
		return len(f.Data), nil
	}
}

func (h *RealtimeHandler) Close() {
	h.HandleDisconnect(nil)
}

func (h *RealtimeHandler) StatsInterval() time.Duration {
	return h.ClientStatsInterval
}

func (h *RealtimeHandler) IdleTimeout() time.Duration {
	if h.ClientIdleTimeout <= 0 {
		return defaultIdleTimeout
	}
	return h.ClientIdleTimeout
}

func (h *RealtimeHandler) GetSessionID() string {
	return h.sessionID
}
