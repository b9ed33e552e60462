package telegram

import (
	"context"
	"log"
	"strconv"
	"strings"
	"time"
)

// Update represents a Telegram Update object (partial schema).
type Update struct {
	UpdateID      int            `json:"update_id"`
	Message       *Message       `json:"message,omitempty"`
	CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`
}

type Chat struct {
	ID int64 `json:"id"`
}

type User struct {
	Username string `json:"username"`
}

type Message struct {
	Text string `json:"text"`
	Chat Chat   `json:"chat"`
	From User   `json:"from"`
}

type CallbackQuery struct {
	ID      string   `json:"id"`
	Data    string   `json:"data"`
	From    User     `json:"from"`
	Message *Message `json:"message,omitempty"`
}

type UpdateResponse struct {
	Ok          bool     `json:"ok"`
	Result      []Update `json:"result"`
	Description string   `json:"description"`
	ErrorCode   int      `json:"error_code"`
}

// CommandHandler processes a slash command and returns the reply text.
type CommandHandler func(ctx context.Context, command string) string

// CallbackHandler processes a button press and returns a short acknowledgement.
type CallbackHandler func(ctx context.Context, data string) string

// Listen long-polls for updates until ctx is done. Messages from any chat
// other than the configured one are logged and ignored.
func (c *Client) Listen(ctx context.Context, commands CommandHandler, callbacks CallbackHandler) {
	log.Println("Telegram Listener: Started")
	offset := 0
	for {
		if ctx.Err() != nil {
			log.Println("Telegram Listener: Stopped")
			return
		}

		updates, err := c.getUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			log.Printf("Telegram Listener Error: %v", err)
			c.sleep(ctx)
			continue
		}

		for _, u := range updates {
			offset = u.UpdateID + 1
			c.dispatch(ctx, u, commands, callbacks)
		}
	}
}

func (c *Client) getUpdates(ctx context.Context, offset int) ([]Update, error) {
	var result UpdateResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"offset":          strconv.Itoa(offset),
			"timeout":         strconv.Itoa(int(c.pollTimeout / time.Second)),
			"allowed_updates": `["message","callback_query"]`,
		}).
		SetResult(&result).
		SetError(&result).
		Get("/getUpdates")
	if err != nil {
		return nil, err
	}
	if resp.IsError() || !result.Ok {
		return nil, &APIError{Code: result.ErrorCode, Description: result.Description}
	}
	return result.Result, nil
}

func (c *Client) dispatch(ctx context.Context, u Update, commands CommandHandler, callbacks CallbackHandler) {
	switch {
	case u.CallbackQuery != nil:
		q := u.CallbackQuery
		if q.Message == nil || q.Message.Chat.ID != c.authChatID {
			log.Printf("⚠️ UNAUTHORIZED CALLBACK: User %s tried: %s", q.From.Username, q.Data)
			return
		}
		if callbacks == nil {
			return
		}
		log.Printf("Callback received: %s", q.Data)
		reply := callbacks(ctx, q.Data)
		if err := c.AnswerCallback(ctx, q.ID, reply); err != nil {
			log.Printf("WARN: answer callback failed: %v", err)
		}
		if reply != "" {
			c.reply(ctx, reply)
		}

	case u.Message != nil:
		m := u.Message
		if m.Chat.ID != c.authChatID {
			// No reply, so the bot's existence is not revealed.
			log.Printf("⚠️ UNAUTHORIZED ACCESS ATTEMPT: User %s (ID: %d) tried: %s",
				m.From.Username, m.Chat.ID, m.Text)
			return
		}
		text := strings.TrimSpace(m.Text)
		if !strings.HasPrefix(text, "/") || commands == nil {
			return
		}
		log.Printf("Command received: %s", text)
		c.reply(ctx, commands(ctx, text))
	}
}

func (c *Client) reply(ctx context.Context, text string) {
	if text == "" {
		return
	}
	if err := c.Notify(ctx, text); err != nil {
		log.Printf("Telegram reply failed: %v", err)
	}
}

func (c *Client) sleep(ctx context.Context) {
	t := time.NewTimer(c.retryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// APIError is a non-ok Bot API answer.
type APIError struct {
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return "telegram api error " + strconv.Itoa(e.Code) + ": " + e.Description
}
