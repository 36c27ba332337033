package lark

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/irlwork/settlement/internal/application/port"
	"github.com/irlwork/settlement/internal/domain/entity"
)

// TextSender delivers a text message to a Lark open_id
type TextSender interface {
	SendText(ctx context.Context, openID, text string) (string, error)
}

// UserDirectory resolves a marketplace user to their profile
type UserDirectory interface {
	Get(ctx context.Context, userID string) (*entity.UserStats, error)
}

// Notifier delivers settlement notifications over Lark IM.
// Users without a linked Lark account are logged instead.
type Notifier struct {
	sender    TextSender
	directory UserDirectory
	fallback  *LogNotifier
	logger    *zap.Logger
	baseURL   string
}

var _ port.Notifier = (*Notifier)(nil)

// NewNotifier creates a Lark notifier. baseURL prefixes notification links.
func NewNotifier(sender TextSender, directory UserDirectory, baseURL string, logger *zap.Logger) *Notifier {
	return &Notifier{
		sender:    sender,
		directory: directory,
		fallback:  NewLogNotifier(logger),
		logger:    logger,
		baseURL:   strings.TrimRight(baseURL, "/"),
	}
}

// CreateNotification implements port.Notifier
func (n *Notifier) CreateNotification(ctx context.Context, msg entity.Notification) error {
	user, err := n.directory.Get(ctx, msg.UserID)
	if err != nil {
		return fmt.Errorf("resolve recipient: %w", err)
	}
	if user == nil || user.LarkOpenID == "" {
		return n.fallback.CreateNotification(ctx, msg)
	}

	messageID, err := n.sender.SendText(ctx, user.LarkOpenID, n.render(msg))
	if err != nil {
		return err
	}

	n.logger.Debug("Notification sent",
		zap.String("user_id", msg.UserID),
		zap.String("type", msg.Type),
		zap.String("message_id", messageID))
	return nil
}

func (n *Notifier) render(msg entity.Notification) string {
	var b strings.Builder
	b.WriteString(msg.Title)
	if msg.Message != "" {
		b.WriteString("\n")
		b.WriteString(msg.Message)
	}
	if msg.Link != "" {
		b.WriteString("\n")
		b.WriteString(n.baseURL)
		b.WriteString(msg.Link)
	}
	return b.String()
}

// LogNotifier writes notifications to the log. Used when Lark is not configured.
type LogNotifier struct {
	logger *zap.Logger
}

var _ port.Notifier = (*LogNotifier)(nil)

// NewLogNotifier creates a notifier that only logs
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// CreateNotification implements port.Notifier
func (n *LogNotifier) CreateNotification(ctx context.Context, msg entity.Notification) error {
	n.logger.Info("Notification",
		zap.String("user_id", msg.UserID),
		zap.String("type", msg.Type),
		zap.String("title", msg.Title),
		zap.String("message", msg.Message),
		zap.String("link", msg.Link))
	return nil
}
