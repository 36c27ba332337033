// Package dispatcher fans notifications out to delivery handlers off the
// caller's goroutine.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/irlwork/settlement/internal/application/port"
	"github.com/irlwork/settlement/internal/domain/entity"
)

// ErrClosed is returned once Close has been called
var ErrClosed = errors.New("dispatcher is closed")

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Dispatcher routes notifications to handlers registered per type.
// It implements port.Notifier; delivery is asynchronous and handler
// failures are logged, never returned to the caller.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]HandlerInfo
	logger   Logger

	wg     sync.WaitGroup
	closed atomic.Bool
}

var _ port.Notifier = (*Dispatcher)(nil)

// Option configures the dispatcher
type Option func(*Dispatcher)

// WithLogger sets a logger for the dispatcher
func WithLogger(logger Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// NewDispatcher creates a new notification dispatcher
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		handlers: make(map[string][]HandlerInfo),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Subscribe registers a handler with an auto-generated name
func (d *Dispatcher) Subscribe(notificationType string, handler Handler) {
	d.mu.RLock()
	name := fmt.Sprintf("handler-%d", len(d.handlers[notificationType]))
	d.mu.RUnlock()
	d.SubscribeNamed(notificationType, name, handler)
}

// SubscribeNamed registers a handler for notificationType, or AllTypes
func (d *Dispatcher) SubscribeNamed(notificationType, name string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.handlers[notificationType] = append(d.handlers[notificationType], HandlerInfo{
		Name:             name,
		NotificationType: notificationType,
		Handler:          handler,
	})

	if d.logger != nil {
		d.logger.Info("Notification handler registered",
			"notification_type", notificationType,
			"handler_name", name,
		)
	}
}

// Unsubscribe removes a handler by name
func (d *Dispatcher) Unsubscribe(notificationType, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	handlers := d.handlers[notificationType]
	filtered := make([]HandlerInfo, 0, len(handlers))
	for _, h := range handlers {
		if h.Name != name {
			filtered = append(filtered, h)
		}
	}
	d.handlers[notificationType] = filtered
}

// CreateNotification schedules delivery of n to every matching handler.
// Delivery outlives ctx cancellation but keeps its values.
func (d *Dispatcher) CreateNotification(ctx context.Context, n entity.Notification) error {
	d.mu.RLock()
	if d.closed.Load() {
		d.mu.RUnlock()
		return ErrClosed
	}
	handlers := d.matchLocked(n.Type)
	d.wg.Add(len(handlers))
	d.mu.RUnlock()

	deliveryCtx := context.WithoutCancel(ctx)
	for _, info := range handlers {
		go func(h HandlerInfo) {
			defer d.wg.Done()
			if err := d.safeExecute(deliveryCtx, n, h); err != nil && d.logger != nil {
				d.logger.Error("Notification delivery failed",
					"notification_type", n.Type,
					"user_id", n.UserID,
					"handler_name", h.Name,
					"error", err,
				)
			}
		}(info)
	}
	return nil
}

// Dispatch delivers n synchronously and returns the first handler error
func (d *Dispatcher) Dispatch(ctx context.Context, n entity.Notification) error {
	d.mu.RLock()
	closed := d.closed.Load()
	handlers := d.matchLocked(n.Type)
	d.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	for _, info := range handlers {
		if err := d.safeExecute(ctx, n, info); err != nil {
			return fmt.Errorf("handler %s failed: %w", info.Name, err)
		}
	}
	return nil
}

// matchLocked returns type-specific handlers followed by AllTypes handlers.
// Callers hold d.mu.
func (d *Dispatcher) matchLocked(notificationType string) []HandlerInfo {
	specific := d.handlers[notificationType]
	wildcard := d.handlers[AllTypes]
	out := make([]HandlerInfo, 0, len(specific)+len(wildcard))
	out = append(out, specific...)
	if notificationType != AllTypes {
		out = append(out, wildcard...)
	}
	return out
}

// ListHandlers returns registered handlers for a notification type
func (d *Dispatcher) ListHandlers(notificationType string) []HandlerInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	handlers := d.handlers[notificationType]
	result := make([]HandlerInfo, len(handlers))
	for i, h := range handlers {
		result[i] = HandlerInfo{
			Name:             h.Name,
			NotificationType: h.NotificationType,
		}
	}
	return result
}

// Close stops accepting notifications and waits for in-flight deliveries
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed.Load() {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher already closed")
	}
	d.closed.Store(true)
	d.mu.Unlock()

	if d.logger != nil {
		d.logger.Info("Closing dispatcher, waiting for deliveries")
	}
	d.wg.Wait()
	return nil
}

// safeExecute runs a handler with panic recovery
func (d *Dispatcher) safeExecute(ctx context.Context, n entity.Notification, info HandlerInfo) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return info.Handler(ctx, n)
}
