// Package line adapts the LINE Messaging API to the fanout core: it sends
// replies and pushes, downloads message content, and turns signed webhook
// requests into inbound events.
package line

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
)

// DefaultMaxContentSize caps downloaded message content.
const DefaultMaxContentSize = 50 << 20

// maxTextLength is the LINE limit for one text message, in characters.
const maxTextLength = 5000

// ErrContentTooLarge is returned by Content when the payload exceeds the cap.
var ErrContentTooLarge = errors.New("line: message content too large")

// ClientConfig configures a Client. The endpoint fields are for tests.
type ClientConfig struct {
	ChannelToken   string
	MaxContentSize int64
	HTTPClient     *http.Client
	APIEndpoint    string // default https://api.line.me
	DataEndpoint   string // default https://api-data.line.me
}

// Client talks to the Messaging API on behalf of one channel.
type Client struct {
	api        *messaging_api.MessagingApiAPI
	blob       *messaging_api.MessagingApiBlobAPI
	maxContent int64
	logger     *slog.Logger
}

// NewClient creates a Client.
func NewClient(cfg ClientConfig, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.ChannelToken == "" {
		return nil, errors.New("line: channel token is required")
	}

	apiOpts := []messaging_api.MessagingApiAPIOption{}
	blobOpts := []messaging_api.MessagingApiBlobAPIOption{}

	if cfg.HTTPClient != nil {
		apiOpts = append(apiOpts, messaging_api.WithHTTPClient(cfg.HTTPClient))
		blobOpts = append(blobOpts, messaging_api.WithBlobHTTPClient(cfg.HTTPClient))
	}

	if cfg.APIEndpoint != "" {
		apiOpts = append(apiOpts, messaging_api.WithEndpoint(cfg.APIEndpoint))
	}

	if cfg.DataEndpoint != "" {
		blobOpts = append(blobOpts, messaging_api.WithBlobEndpoint(cfg.DataEndpoint))
	}

	api, err := messaging_api.NewMessagingApiAPI(cfg.ChannelToken, apiOpts...)
	if err != nil {
		return nil, fmt.Errorf("line: creating messaging client: %w", err)
	}

	blob, err := messaging_api.NewMessagingApiBlobAPI(cfg.ChannelToken, blobOpts...)
	if err != nil {
		return nil, fmt.Errorf("line: creating content client: %w", err)
	}

	maxContent := cfg.MaxContentSize
	if maxContent <= 0 {
		maxContent = DefaultMaxContentSize
	}

	return &Client{api: api, blob: blob, maxContent: maxContent, logger: logger}, nil
}

// Reply answers an event with its reply token.
func (c *Client) Reply(ctx context.Context, replyToken, text string) error {
	_, err := c.api.WithContext(ctx).ReplyMessage(&messaging_api.ReplyMessageRequest{
		ReplyToken: replyToken,
		Messages:   textMessages(text),
	})
	if err != nil {
		return fmt.Errorf("line: reply: %w", err)
	}

	return nil
}

// Push sends text to a user, group or room id.
func (c *Client) Push(ctx context.Context, to, text string) error {
	_, err := c.api.WithContext(ctx).PushMessage(&messaging_api.PushMessageRequest{
		To:       to,
		Messages: textMessages(text),
	}, "")
	if err != nil {
		return fmt.Errorf("line: push to %s: %w", to, err)
	}

	return nil
}

// Content downloads the binary content of a message. It returns the data
// and the Content-Type the platform reported.
func (c *Client) Content(ctx context.Context, messageID string) ([]byte, string, error) {
	resp, err := c.blob.WithContext(ctx).GetMessageContent(messageID)
	if err != nil {
		return nil, "", fmt.Errorf("line: fetching content of %s: %w", messageID, err)
	}
	defer resp.Body.Close()

	if resp.ContentLength > c.maxContent {
		return nil, "", fmt.Errorf("%w: %d bytes", ErrContentTooLarge, resp.ContentLength)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxContent+1))
	if err != nil {
		return nil, "", fmt.Errorf("line: reading content of %s: %w", messageID, err)
	}

	if int64(len(data)) > c.maxContent {
		return nil, "", fmt.Errorf("%w: over %d bytes", ErrContentTooLarge, c.maxContent)
	}

	c.logger.Debug("fetched message content",
		slog.String("message_id", messageID),
		slog.Int("size", len(data)),
	)

	return data, resp.Header.Get("Content-Type"), nil
}

// textMessages wraps text as a single message, truncated to the platform limit.
func textMessages(text string) []messaging_api.MessageInterface {
	if r := []rune(text); len(r) > maxTextLength {
		text = string(r[:maxTextLength])
	}

	return []messaging_api.MessageInterface{
		messaging_api.TextMessage{Text: text},
	}
}
