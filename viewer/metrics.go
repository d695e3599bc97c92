package viewer

import (
	"context"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/net/websocket"

	"github.com/aukilabs/terrain/render"
)

const (
	errTypeLabel = "error_type"
	msgTypeLabel = "msg_type"
)

var (
	wsConnectedViewers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "viewer_connected_clients",
		Help: "The number of connected viewers.",
	})

	wsReceivedMsgs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "viewer_received_msgs",
		Help: "The number of messages received from viewers.",
	}, []string{
		msgTypeLabel,
	})

	wsReceivedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "viewer_received_bytes",
		Help: "The number of bytes received from viewers.",
	})

	wsReceiveError = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "viewer_receive_errors",
		Help: "The errors that occured while receiving a viewer message.",
	}, []string{
		errTypeLabel,
	})

	wsSentMsgs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "viewer_sent_msgs",
		Help: "The number of frames sent to viewers.",
	}, []string{
		msgTypeLabel,
	})

	wsSentBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "viewer_sent_bytes",
		Help: "The number of bytes sent to viewers.",
	}, []string{
		msgTypeLabel,
	})

	wsSendError = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "viewer_send_errors",
		Help: "The errors that occured while sending a frame to a viewer.",
	}, []string{
		errTypeLabel,
		msgTypeLabel,
	})

	wsMsgLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "viewer_msg_latency",
		Help: "The time to process a viewer message.",
	}, []string{
		msgTypeLabel,
	})
)

// HandlerWithMetrics returns a handler that reports viewer traffic to
// Prometheus.
func HandlerWithMetrics(h Handler) Handler {
	return &handlerWithMetrics{
		Handler: h,
	}
}

type handlerWithMetrics struct {
	Handler
}

func (h *handlerWithMetrics) HandleConnect(conn *websocket.Conn) {
	wsConnectedViewers.Inc()
	h.Handler.HandleConnect(conn)
}

func (h *handlerWithMetrics) HandleDisconnect(err error) {
	wsConnectedViewers.Dec()
	h.Handler.HandleDisconnect(err)
}

func (h *handlerWithMetrics) HandlePing(ctx context.Context, respond ResponseSender, msg Msg) error {
	return h.measureLatency(msg.Type, func() error {
		return h.Handler.HandlePing(ctx, respond, msg)
	})
}

func (h *handlerWithMetrics) HandleCamera(ctx context.Context, respond ResponseSender, msg Msg) error {
	return h.measureLatency(msg.Type, func() error {
		return h.Handler.HandleCamera(ctx, respond, msg)
	})
}

func (h *handlerWithMetrics) HandleWorldEvent(ctx context.Context, respond ResponseSender, e render.Event) error {
	return h.measureLatency(MsgType(e.Type.String()), func() error {
		return h.Handler.HandleWorldEvent(ctx, respond, e)
	})
}

func (h *handlerWithMetrics) Receiver() Receiver {
	receive := h.Handler.Receiver()

	return func() (Msg, int, error) {
		msg, n, err := receive()
		if err != nil {
			wsReceiveError.
				With(prometheus.Labels{
					errTypeLabel: errors.Type(err),
				}).
				Inc()
		} else {
			wsReceivedMsgs.
				With(prometheus.Labels{
					msgTypeLabel: string(msg.Type),
				}).
				Inc()
		}

		if n != 0 {
			wsReceivedBytes.Add(float64(n))
		}
		return msg, n, err
	}
}

func (h *handlerWithMetrics) Sender() Sender {
	sender := h.Handler.Sender()

	return func(f Frame) (int, error) {
		msgType := string(f.Type)

		n, err := sender(f)
		if err != nil {
			wsSendError.
				With(prometheus.Labels{
					msgTypeLabel: msgType,
					errTypeLabel: errors.Type(err),
				}).
				Inc()
		}

		if n != 0 {
			wsSentMsgs.
				With(prometheus.Labels{
					msgTypeLabel: msgType,
				}).
				Inc()
			wsSentBytes.
				With(prometheus.Labels{
					msgTypeLabel: msgType,
				}).
				Add(float64(n))
		}
		return n, err
	}
}

func (h *handlerWithMetrics) measureLatency(msgType MsgType, f func() error) error {
	start := time.Now()

	err := f()
	if errors.IsType(err, ErrTypeMsgSkip) {
		return err
	}

	wsMsgLatency.With(prometheus.Labels{
		msgTypeLabel: string(msgType),
	}).Observe(time.Since(start).Seconds())

	return err
}
