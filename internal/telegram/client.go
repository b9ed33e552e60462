// Package telegram talks to the Telegram Bot API: outbound notices,
// approve/deny buttons and the command listener.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
)

const DefaultBaseURL = "https://api.telegram.org"

var ErrDisabled = errors.New("telegram credentials missing")

// Client sends to a single authorised chat.
type Client struct {
	http        *resty.Client
	baseURL     string
	chatID      string
	authChatID  int64
	pollTimeout time.Duration
	retryDelay  time.Duration
	debug       bool

	// Emit and Announce go through queue so callers never wait on the API.
	queueSize int
	queue     chan outbound
	done      chan struct{}
	mu        sync.Mutex
	closed    bool
	dropped   atomic.Int64
}

type Option func(*Client)

// WithBaseURL points the client at another Bot API host (tests use httptest).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithPollTimeout sets the long-poll timeout passed to getUpdates.
func WithPollTimeout(d time.Duration) Option {
	return func(c *Client) { c.pollTimeout = d }
}

func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) { c.retryDelay = d }
}

func WithDebug(on bool) Option {
	return func(c *Client) { c.debug = on }
}

// New returns nil and ErrDisabled when either credential is empty. The
// returned client runs a sender goroutine until Close.
func New(token, chatID string, opts ...Option) (*Client, error) {
	if token == "" || chatID == "" {
		return nil, ErrDisabled
	}
	authChatID, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID %q: %w", chatID, err)
	}

	c := &Client{
		http:        resty.New(),
		baseURL:     DefaultBaseURL,
		chatID:      chatID,
		authChatID:  authChatID,
		pollTimeout: 60 * time.Second,
		retryDelay:  5 * time.Second,
		queueSize:   defaultQueueSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.http.SetBaseURL(c.baseURL + "/bot" + token)
	// Long polls hold the request open for pollTimeout.
	c.http.SetTimeout(c.pollTimeout + 10*time.Second)

	c.queue = make(chan outbound, c.queueSize)
	c.done = make(chan struct{})
	go c.drain()
	return c, nil
}

type apiResponse struct {
	Ok          bool   `json:"ok"`
	Description string `json:"description"`
	ErrorCode   int    `json:"error_code"`
}

// Notify sends a Markdown message to the configured chat.
func (c *Client) Notify(ctx context.Context, text string) error {
	if c.debug {
		log.Printf("DEBUG: Telegram Notify: %s", text)
	}
	return c.call(ctx, "sendMessage", map[string]any{
		"chat_id":    c.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	})
}

// AnswerCallback acknowledges a button press so the client stops its spinner.
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	return c.call(ctx, "answerCallbackQuery", map[string]any{
		"callback_query_id": callbackID,
		"text":              text,
	})
}

func (c *Client) call(ctx context.Context, method string, payload any) error {
	var result apiResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&result).
		SetError(&result).
		Post("/" + method)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	if resp.IsError() {
		return fmt.Errorf("telegram %s: status %d: %s", method, resp.StatusCode(), result.Description)
	}
	return nil
}
