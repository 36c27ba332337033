package dispatcher

import (
	"context"

	"github.com/irlwork/settlement/internal/domain/entity"
)

// AllTypes subscribes a handler to every notification type
const AllTypes = "*"

// Handler delivers one notification
type Handler func(ctx context.Context, n entity.Notification) error

// HandlerInfo contains handler metadata for debugging
type HandlerInfo struct {
	Name             string
	NotificationType string
	Handler          Handler
}
