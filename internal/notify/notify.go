package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/yourusername/p2p-swap/swap-service/internal/models"
	"github.com/yourusername/p2p-swap/swap-service/pkg/logger"
)

// Channel is the delivery medium for a notification.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

// Sink delivers a rendered message to a recipient. Implementations are
// expected to be best-effort, delivery results never reach the caller
// of the owning swap transition.
type Sink interface {
	Notify(ctx context.Context, recipient string, channel Channel, message string) error
}

// LogSink writes notifications to the application log, standing in for
// a real SMS/email gateway.
type LogSink struct{}

func (LogSink) Notify(ctx context.Context, recipient string, channel Channel, message string) error {
	logger.Info("Notification dispatched",
		zap.String("recipient", recipient),
		zap.String("channel", string(channel)),
		zap.String("message", message),
	)
	return nil
}

// Dispatcher fans persisted notifications out to the sink after the
// owning transaction has committed.
type Dispatcher struct {
	sink Sink
}

// NewDispatcher creates a dispatcher over the given sink
func NewDispatcher(sink Sink) *Dispatcher {
	return &Dispatcher{sink: sink}
}

// Dispatch sends asynchronously. Failures are logged and dropped, the
// durable Notification row already records what was owed.
func (d *Dispatcher) Dispatch(recipient string, notification models.Notification) {
	if d == nil || d.sink == nil {
		return
	}
	go func() {
		err := d.sink.Notify(context.Background(), recipient, Channel(notification.Channel), notification.Message)
		if err != nil {
			logger.Error("Failed to dispatch notification",
				zap.String("recipient", recipient),
				zap.String("type", string(notification.Type)),
				zap.Error(err),
			)
		}
	}()
}
