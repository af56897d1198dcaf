package hitl

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNewInteractionRequest_Validation(t *testing.T) {
	upload := &Args{Content: "Upload your file", Accept: []string{"text/csv"}}
	tests := []struct {
		name    string
		typ     MessageType
		args    Args
		followT MessageType
		followA *Args
		wantErr bool
	}{
		{name: "ask user", typ: AskUserMessage, args: Args{Content: "Which column?"}},
		{name: "message with follow up", typ: Message, args: Args{Content: "Hi"}, followT: AskFileMessage, followA: upload},
		{name: "empty content", typ: AskUserMessage, args: Args{Content: "  "}, wantErr: true},
		{name: "message without follow up", typ: Message, args: Args{Content: "Hi"}, wantErr: true},
		{name: "message with follow up type only", typ: Message, args: Args{Content: "Hi"}, followT: AskUserMessage, wantErr: true},
		{name: "message following message", typ: Message, args: Args{Content: "Hi"}, followT: Message, followA: &Args{Content: "x"}, wantErr: true},
		{name: "unknown type", typ: "Toast", args: Args{Content: "Hi"}, wantErr: true},
		{name: "action without actions", typ: AskActionMessage, args: Args{Content: "Confirm?"}, wantErr: true},
		{name: "file without accept", typ: AskFileMessage, args: Args{Content: "Upload"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := NewInteractionRequest(tt.typ, tt.args, tt.followT, tt.followA)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidInteraction))
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, req.ID)
		})
	}
}

func TestBroker_AskAndRespond(t *testing.T) {
	rendered := make(chan InteractionRequest, 1)
	b := NewBroker(TransportFunc(func(_ context.Context, req InteractionRequest) error {
		rendered <- req
		return nil
	}))

	req, err := NewInteractionRequest(AskUserMessage, Args{Content: "Proceed?"}, "", nil)
	require.NoError(t, err)

	go func() {
		got := <-rendered
		assert.NoError(t, b.Respond(HumanResponse{RequestID: got.ID, Output: "yes"}))
	}()

	resp, err := b.Ask(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "yes", resp.Output)
	assert.Equal(t, 0, b.Pending())
}

func TestBroker_UnknownRequest(t *testing.T) {
	b := NewBroker(TransportFunc(func(context.Context, InteractionRequest) error { return nil }))
	err := b.Respond(HumanResponse{RequestID: "missing"})
	assert.ErrorIs(t, err, ErrUnknownRequest)
}

func TestBroker_ContextEndsWait(t *testing.T) {
	b := NewBroker(TransportFunc(func(context.Context, InteractionRequest) error { return nil }))
	req, err := NewInteractionRequest(AskUserMessage, Args{Content: "Anyone?"}, "", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = b.Ask(ctx, req)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, b.Pending())

	assert.ErrorIs(t, b.Respond(HumanResponse{RequestID: req.ID}), ErrUnknownRequest)
}

func TestBroker_RejectsInvalidRequest(t *testing.T) {
	b := NewBroker(TransportFunc(func(context.Context, InteractionRequest) error { return nil }))
	_, err := b.Ask(context.Background(), InteractionRequest{ID: "x", MessageType: Message, MessageArgs: Args{Content: "hi"}})
	assert.ErrorIs(t, err, ErrInvalidInteraction)
}
