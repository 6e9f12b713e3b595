// Package notify fans user-facing notifications out to subscribers.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trigg3rX/taskmarket/internal/taskmarket/metrics"
	"github.com/trigg3rX/taskmarket/pkg/logging"
	"github.com/trigg3rX/taskmarket/pkg/types"
)

type Kind string

const (
	KindSuccess Kind = "SUCCESS"
	KindError   Kind = "ERROR"
	KindInfo    Kind = "INFO"
	KindWarning Kind = "WARNING"
)

type Notification struct {
	ID      string       `json:"id"`
	Kind    Kind         `json:"kind"`
	Action  types.Action `json:"action,omitempty"`
	Message string       `json:"message"`
	TxHash  string       `json:"txHash,omitempty"`
	Time    time.Time    `json:"time"`
}

// Notifier publishes notifications.
type Notifier interface {
	Publish(n Notification)
}

const defaultBuffer = 32

type subscriber struct {
	ch chan Notification
}

// Bus delivers each notification to every subscriber without blocking the
// publisher. A subscriber whose buffer is full misses the notification.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]*subscriber
	buffer int
	now    func() time.Time
	logger logging.Logger
}

var _ Notifier = (*Bus)(nil)

func NewBus(logger logging.Logger) *Bus {
	return &Bus{
		subs:   make(map[string]*subscriber),
		buffer: defaultBuffer,
		now:    time.Now,
		logger: logger,
	}
}

// Subscribe registers a subscriber. The returned cancel function removes
// it and closes the channel; it is safe to call more than once.
func (b *Bus) Subscribe() (string, <-chan Notification, func()) {
	id := uuid.NewString()
	sub := &subscriber{ch: make(chan Notification, b.buffer)}

	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()
	b.logger.Debug("Subscribed to notifications", "subscriber", id)

	var once sync.Once
	return id, sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
}

// Publish stamps n with an id and time when missing and delivers it.
func (b *Bus) Publish(n Notification) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Time.IsZero() {
		n.Time = b.now()
	}
	metrics.NotificationsTotal.WithLabelValues(string(n.Kind)).Inc()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, sub := range b.subs {
		select {
		case sub.ch <- n:
		default:
			b.logger.Warn("Dropped notification for slow subscriber", "subscriber", id, "notification", n.ID)
		}
	}
	b.logger.Debug("Published notification", "kind", n.Kind, "action", n.Action, "message", n.Message)
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Success builds a success notification for action.
func Success(action types.Action, txHash string) Notification {
	return Notification{Kind: KindSuccess, Action: action, Message: action.SuccessMessage(), TxHash: txHash}
}

// Failure builds an error notification carrying the readable reason of err.
func Failure(action types.Action, err error) Notification {
	return Notification{Kind: KindError, Action: action, Message: types.Reason(err)}
}
