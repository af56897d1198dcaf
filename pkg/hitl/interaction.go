// Package hitl lets a workflow step suspend on a question to the user and
// resume when the matching answer arrives.
package hitl

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var ErrInvalidInteraction = errors.New("invalid interaction request")

type MessageType string

const (
	Message          MessageType = "Message"
	AskUserMessage   MessageType = "AskUserMessage"
	AskFileMessage   MessageType = "AskFileMessage"
	AskActionMessage MessageType = "AskActionMessage"
)

func (t MessageType) valid() bool {
	switch t {
	case Message, AskUserMessage, AskFileMessage, AskActionMessage:
		return true
	}
	return false
}

func (t MessageType) asks() bool {
	return t.valid() && t != Message
}

// Action is one button of an AskActionMessage.
type Action struct {
	Name  string `json:"name"`
	Label string `json:"label"`
	Value string `json:"value"`
}

// Args are the rendering arguments of a request. Content is mandatory.
type Args struct {
	Content string   `json:"content"`
	Accept  []string `json:"accept,omitempty"`
	MaxMB   int      `json:"max_size_mb,omitempty"`
	Actions []Action `json:"actions,omitempty"`
}

// InteractionRequest asks the user something. A plain Message carries its
// ask in FollowUpType/FollowUpArgs.
type InteractionRequest struct {
	ID           string      `json:"id"`
	MessageType  MessageType `json:"message_type"`
	MessageArgs  Args        `json:"message_args"`
	FollowUpType MessageType `json:"follow_up_type,omitempty"`
	FollowUpArgs *Args       `json:"follow_up_args,omitempty"`
}

// NewInteractionRequest validates and stamps a request. Invalid requests are
// a programming error in the caller and must abort the turn.
func NewInteractionRequest(messageType MessageType, args Args, followUpType MessageType, followUpArgs *Args) (InteractionRequest, error) {
	req := InteractionRequest{
		ID:           uuid.NewString(),
		MessageType:  messageType,
		MessageArgs:  args,
		FollowUpType: followUpType,
		FollowUpArgs: followUpArgs,
	}
	if err := req.Validate(); err != nil {
		return InteractionRequest{}, err
	}
	return req, nil
}

func (r InteractionRequest) Validate() error {
	if !r.MessageType.valid() {
		return fmt.Errorf("%w: unknown message_type %q", ErrInvalidInteraction, r.MessageType)
	}
	if strings.TrimSpace(r.MessageArgs.Content) == "" {
		return fmt.Errorf("%w: content is required", ErrInvalidInteraction)
	}
	if err := validateAsk(r.MessageType, r.MessageArgs); err != nil {
		return err
	}
	if r.MessageType != Message {
		return nil
	}
	if !r.FollowUpType.asks() {
		return fmt.Errorf("%w: Message requires an ask follow_up_type, got %q", ErrInvalidInteraction, r.FollowUpType)
	}
	if r.FollowUpArgs == nil || strings.TrimSpace(r.FollowUpArgs.Content) == "" {
		return fmt.Errorf("%w: Message requires follow_up_args with content", ErrInvalidInteraction)
	}
	return validateAsk(r.FollowUpType, *r.FollowUpArgs)
}

func validateAsk(t MessageType, a Args) error {
	switch t {
	case AskActionMessage:
		if len(a.Actions) == 0 {
			return fmt.Errorf("%w: AskActionMessage requires actions", ErrInvalidInteraction)
		}
	case AskFileMessage:
		if len(a.Accept) == 0 {
			return fmt.Errorf("%w: AskFileMessage requires accepted file types", ErrInvalidInteraction)
		}
	}
	return nil
}

// AskType is the type that the user's answer responds to.
func (r InteractionRequest) AskType() MessageType {
	if r.MessageType == Message {
		return r.FollowUpType
	}
	return r.MessageType
}

// FileRef points at an uploaded file.
type FileRef struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Mime string `json:"mime,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// HumanResponse answers exactly one InteractionRequest.
type HumanResponse struct {
	RequestID string   `json:"request_id"`
	Output    string   `json:"output,omitempty"`
	File      *FileRef `json:"file,omitempty"`
}
