package entity

import "errors"

// Domain errors for conversation events
var (
	ErrInvalidBody     = errors.New("invalid event body")
	ErrEmptyMessage    = errors.New("message text cannot be empty")
	ErrMessageTooLong  = errors.New("message exceeds maximum length")
	ErrMissingEventID  = errors.New("event id is required")
	ErrNoConversation  = errors.New("no conversation selected")
	ErrMediaRequired   = errors.New("media is required for this message type")
	ErrTemplateMissing = errors.New("template name is required")
	ErrEventNotFound   = errors.New("event not found")
	ErrNotDiscardable  = errors.New("only unsent local events can be discarded")
)

// MaxMessageLength is the maximum length of an outbound text message
const MaxMessageLength = 4096

// ValidateMessageText validates the text for a message
func ValidateMessageText(text string) error {
	if text == "" {
		return ErrEmptyMessage
	}
	if len(text) > MaxMessageLength {
		return ErrMessageTooLong
	}
	return nil
}
