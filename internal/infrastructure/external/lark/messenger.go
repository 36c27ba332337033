package lark

import (
	"context"
	"encoding/json"
	"fmt"

	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"
)

// Messenger sends IM messages to users by open_id
type Messenger struct {
	sdk    *SDKClient
	logger *zap.Logger
}

// NewMessenger creates a new Lark message sender
func NewMessenger(sdk *SDKClient, logger *zap.Logger) *Messenger {
	return &Messenger{
		sdk:    sdk,
		logger: logger,
	}
}

// SendText sends a plain text message and returns the message id
func (m *Messenger) SendText(ctx context.Context, openID, text string) (string, error) {
	if openID == "" {
		return "", fmt.Errorf("openID cannot be empty")
	}
	if text == "" {
		return "", fmt.Errorf("text cannot be empty")
	}

	content, err := textContent(text)
	if err != nil {
		return "", err
	}

	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType("open_id").
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(openID).
			MsgType("text").
			Content(content).
			Build()).
		Build()

	resp, err := m.sdk.GetClient().Im.Message.Create(ctx, req)
	if err != nil {
		m.logger.Error("Failed to send message",
			zap.String("open_id", openID),
			zap.Error(err))
		return "", fmt.Errorf("failed to send message: %w", err)
	}

	if !resp.Success() {
		m.logger.Error("API returned failure",
			zap.String("open_id", openID),
			zap.Int("code", resp.Code),
			zap.String("msg", resp.Msg))
		return "", fmt.Errorf("API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}

	messageID := ""
	if resp.Data != nil && resp.Data.MessageId != nil {
		messageID = *resp.Data.MessageId
	}
	return messageID, nil
}

// textContent renders the JSON body Lark expects for msg_type=text
func textContent(text string) (string, error) {
	data, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return "", fmt.Errorf("failed to marshal text content: %w", err)
	}
	return string(data), nil
}
