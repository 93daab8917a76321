// ABOUTME: Inbound Telegram update schema and strict decoding
// ABOUTME: Required fields are checked for presence, unknown fields are ignored

package telegram

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrParse wraps every failure to decode an inbound update.
var ErrParse = errors.New("telegram: malformed update")

// Update is a webhook delivery from Telegram.
type Update struct {
	UpdateID int64   `json:"update_id"`
	Message  Message `json:"message"`
}

// Message is the message carried by an Update.
type Message struct {
	MessageID int64           `json:"message_id"`
	Chat      Chat            `json:"chat"`
	Text      *string         `json:"text,omitempty"`
	Entities  []MessageEntity `json:"entities,omitempty"`
}

// Chat identifies the conversation a message belongs to.
type Chat struct {
	ID int64 `json:"id"`
}

// MessageEntity marks a span of special text such as a command or a URL.
type MessageEntity struct {
	Type   string `json:"type"`
	Offset int    `json:"offset"`
	Length int    `json:"length"`
}

// TenantID returns the chat id as a decimal string.
func (u *Update) TenantID() string {
	return strconv.FormatInt(u.Message.Chat.ID, 10)
}

// IdempotencyKey returns the update id as a decimal string. Telegram reuses
// it when it redelivers the same update.
func (u *Update) IdempotencyKey() string {
	return strconv.FormatInt(u.UpdateID, 10)
}

// wire types use pointers so missing required fields can be told apart from
// zero values.
type wireUpdate struct {
	UpdateID *int64       `json:"update_id"`
	Message  *wireMessage `json:"message"`
}

type wireMessage struct {
	MessageID *int64          `json:"message_id"`
	Chat      *wireChat       `json:"chat"`
	Text      *string         `json:"text"`
	Entities  []MessageEntity `json:"entities"`
}

type wireChat struct {
	ID *int64 `json:"id"`
}

// ParseUpdate decodes data into an Update. Errors wrap ErrParse.
func ParseUpdate(data []byte) (*Update, error) {
	var w wireUpdate
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}

	switch {
	case w.UpdateID == nil:
		return nil, fmt.Errorf("%w: missing update_id", ErrParse)
	case w.Message == nil:
		return nil, fmt.Errorf("%w: missing message", ErrParse)
	case w.Message.MessageID == nil:
		return nil, fmt.Errorf("%w: missing message.message_id", ErrParse)
	case w.Message.Chat == nil || w.Message.Chat.ID == nil:
		return nil, fmt.Errorf("%w: missing message.chat.id", ErrParse)
	}

	return &Update{
		UpdateID: *w.UpdateID,
		Message: Message{
			MessageID: *w.Message.MessageID,
			Chat:      Chat{ID: *w.Message.Chat.ID},
			Text:      w.Message.Text,
			Entities:  w.Message.Entities,
		},
	}, nil
}
