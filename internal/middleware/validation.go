package middleware

import (
	"errors"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ValidateMessageContent validates message content.
func ValidateMessageContent(content string) error {
	if len(content) == 0 {
		return errors.New("content cannot be empty")
	}
	if len(content) > 100000 { // ~100KB limit
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}

// ValidateConversationID validates a conversation ID.
func ValidateConversationID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid conversation ID format")
	}
	return nil
}

// ValidateChannel validates a channel name.
func ValidateChannel(channel string) error {
	if len(channel) == 0 {
		return errors.New("channel cannot be empty")
	}
	if len(channel) > 32 {
		return errors.New("channel exceeds maximum length")
	}
	return nil
}

// ValidateResponderID validates a responder ID.
func ValidateResponderID(id string) error {
	if len(id) == 0 {
		return errors.New("responder ID cannot be empty")
	}
	if len(id) > 64 {
		return errors.New("responder ID exceeds maximum length")
	}
	return nil
}

// ValidateAgentID validates a human agent ID.
func ValidateAgentID(id string) error {
	if len(id) == 0 {
		return errors.New("agent ID cannot be empty")
	}
	if len(id) > 64 {
		return errors.New("agent ID exceeds maximum length")
	}
	return nil
}
