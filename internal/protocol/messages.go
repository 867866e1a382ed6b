package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientMessage  MessageType = "client_message"
	TypeAssistantReply MessageType = "assistant_reply"
	TypeSystemEvent    MessageType = "system_event"
	TypeErrorEvent     MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientMessage is one user message relayed by the platform bridge.
type ClientMessage struct {
	Type       MessageType `json:"type"`
	MessageID  string      `json:"message_id"`
	ChannelID  string      `json:"channel_id"`
	AuthorID   string      `json:"author_id"`
	AuthorName string      `json:"author_name,omitempty"`
	Text       string      `json:"text"`
	TSMs       int64       `json:"ts_ms,omitempty"`
}

// AssistantReply carries the assistant's answer back to the bridge.
type AssistantReply struct {
	Type      MessageType `json:"type"`
	MessageID string      `json:"message_id"`
	ChannelID string      `json:"channel_id"`
	Text      string      `json:"text"`
	TSMs      int64       `json:"ts_ms"`
}

type SystemEvent struct {
	Type   MessageType `json:"type"`
	Code   string      `json:"code"`
	Detail string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type   MessageType `json:"type"`
	Code   string      `json:"code"`
	Detail string      `json:"detail"`
}

// ParseClientMessage validates and decodes one inbound frame.
func ParseClientMessage(raw []byte) (ClientMessage, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ClientMessage{}, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientMessage:
		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return ClientMessage{}, err
		}
		if msg.ChannelID == "" || msg.AuthorID == "" || msg.Text == "" {
			return ClientMessage{}, errors.New("invalid client_message")
		}
		return msg, nil
	default:
		return ClientMessage{}, ErrUnsupportedType
	}
}
