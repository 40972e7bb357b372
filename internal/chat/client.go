// Package chat talks to the chat service and runs the post-commit notification side effects.
package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// CreateChatRequest asks the chat service to create or reuse the buyer-seller conversation.
type CreateChatRequest struct {
	BuyerID       int64  `json:"buyer_id"`
	SellerID      int64  `json:"seller_id"`
	ListingID     int64  `json:"listing_id"`
	SaleID        int64  `json:"sale_id"`
	TransactionID *int64 `json:"transaction_id,omitempty"`
}

// Chat is the subset of the chat resource the sales service needs.
type Chat struct {
	ID string `json:"id"`
}

// Message is a chat message; System marks it as sent by the platform.
type Message struct {
	Content string `json:"content"`
	System  bool   `json:"system"`
}

// ClientConfig configures the HTTP client.
type ClientConfig struct {
	BaseURL   string
	Timeout   time.Duration
	Retries   int
	RetryWait time.Duration
}

// Client is a resty based chat service client.
type Client struct {
	http *resty.Client
}

// NewClient cria o cliente HTTP do serviço de chat com timeout e retry limitados
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("chat client: base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = 200 * time.Millisecond
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(4*cfg.RetryWait).
		SetHeader("Content-Type", "application/json").
		AddRetryCondition(retryable)

	return &Client{http: httpClient}, nil
}

// CreateChat creates the conversation or returns the existing one.
func (c *Client) CreateChat(ctx context.Context, req CreateChatRequest) (Chat, error) {
	var out Chat
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/chats")
	if err != nil {
		return Chat{}, fmt.Errorf("create chat: %w", err)
	}
	if resp.IsError() {
		return Chat{}, fmt.Errorf("create chat: status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	if strings.TrimSpace(out.ID) == "" {
		return Chat{}, errors.New("create chat: empty chat id in response")
	}
	return out, nil
}

// PostMessage appends msg to chatID.
func (c *Client) PostMessage(ctx context.Context, chatID string, msg Message) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("chatID", chatID).
		SetBody(msg).
		Post("/chats/{chatID}/messages")
	if err != nil {
		return fmt.Errorf("post chat message: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("post chat message: status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return nil
}

// retryable retries transport errors, 429 and 5xx.
func retryable(resp *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if resp == nil {
		return false
	}
	code := resp.StatusCode()
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
