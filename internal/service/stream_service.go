package service

import (
	"context"
	"encoding/json"

	"bioinsight-be/internal/pkg/logger"
	ws "bioinsight-be/internal/websocket"
	"bioinsight-be/pkg/events"
	"bioinsight-be/pkg/hitl"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// FrameSink receives frames for connected sockets. *websocket.Hub satisfies it.
type FrameSink interface {
	Send(frame ws.Frame)
}

// IStreamService moves per-session frames from the workflow to the sockets.
// Producers publish onto the in-process bus and Consume drains it into the
// sink. Frame order per session needs a bus that blocks until ack.
type IStreamService interface {
	Observe(ctx context.Context, sessionID string, ev events.Event)
	Interaction(ctx context.Context, sessionID string, req hitl.InteractionRequest) error
	Result(ctx context.Context, sessionID string, res interface{}) error
	Consume(ctx context.Context) error
}

type streamService struct {
	pubSub    *gochannel.GoChannel
	topicName string
	sink      FrameSink
	logger    logger.ILogger
}

func NewStreamService(pubSub *gochannel.GoChannel, topicName string, sink FrameSink, log logger.ILogger) IStreamService {
	return &streamService{
		pubSub:    pubSub,
		topicName: topicName,
		sink:      sink,
		logger:    log,
	}
}

// Observe publishes a progress frame. Payloads are summaries; answers travel
// only in the result frame.
func (s *streamService) Observe(_ context.Context, sessionID string, ev events.Event) {
	if err := s.publish(ws.Frame{Type: ws.FrameEvent, SessionID: sessionID, Data: describeEvent(ev)}); err != nil {
		s.logger.Warn("STREAM", "Failed to publish progress frame", map[string]interface{}{
			"session_id": sessionID,
			"kind":       ev.Kind(),
			"error":      err.Error(),
		})
	}
}

func (s *streamService) Interaction(_ context.Context, sessionID string, req hitl.InteractionRequest) error {
	return s.publish(ws.Frame{Type: ws.FrameInteraction, SessionID: sessionID, Data: req})
}

func (s *streamService) Result(_ context.Context, sessionID string, res interface{}) error {
	return s.publish(ws.Frame{Type: ws.FrameResult, SessionID: sessionID, Data: res})
}

func (s *streamService) publish(frame ws.Frame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("session_id", frame.SessionID)
	return s.pubSub.Publish(s.topicName, msg)
}

func (s *streamService) Consume(ctx context.Context) error {
	messages, err := s.pubSub.Subscribe(ctx, s.topicName)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			s.processMessage(msg)
		}
	}()

	return nil
}

func (s *streamService) processMessage(msg *message.Message) {
	var frame ws.Frame
	if err := json.Unmarshal(msg.Payload, &frame); err != nil {
		s.logger.Error("STREAM", "Dropping malformed frame", map[string]interface{}{
			"message_id": msg.UUID,
			"error":      err.Error(),
		})
		// Ack invalid messages so they are not redelivered
		msg.Ack()
		return
	}
	s.sink.Send(frame)
	msg.Ack()
}

func describeEvent(ev events.Event) map[string]interface{} {
	d := map[string]interface{}{"kind": ev.Kind()}
	switch e := ev.(type) {
	case events.SourceDispatch:
		d["family"] = e.Family
		d["index"] = e.Index
	case events.SourceResponse:
		d["family"] = e.Family
		d["index"] = e.Index
	case events.Evaluate:
		d["family"] = e.Origin.Family
	case events.GraphRequest:
		d["family"] = e.Source.Family
	}
	return d
}
