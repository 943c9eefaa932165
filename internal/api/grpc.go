package api

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"qmtbridge/internal/event"
)

// Fully-qualified names of the event stream RPC.
const (
	EventServiceName = "qmtbridge.v1.Events"
	StreamMethod     = "/" + EventServiceName + "/Stream"
)

// EventStreamer is the server side of the event stream RPC. Requests and
// events travel as google.protobuf.Struct; an event struct has the same
// shape as its JSON encoding.
type EventStreamer interface {
	Stream(req *structpb.Struct, stream grpc.ServerStream) error
}

var eventServiceDesc = grpc.ServiceDesc{
	ServiceName: EventServiceName,
	HandlerType: (*EventStreamer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Stream",
			Handler:       streamHandler,
			ServerStreams: true,
		},
	},
	Metadata: "qmtbridge/v1/events.proto",
}

func streamHandler(srv any, stream grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(EventStreamer).Stream(req, stream)
}

// Compile-time interface check.
var _ EventStreamer = (*EventService)(nil)

// EventService streams bus events to gRPC clients.
type EventService struct {
	bus *event.Bus
	log *slog.Logger
}

// NewEventService creates an EventService fed from bus.
func NewEventService(bus *event.Bus, logger *slog.Logger) *EventService {
	return &EventService{bus: bus, log: logger}
}

// Register registers the service on the given gRPC server instance.
func (s *EventService) Register(gs *grpc.Server) {
	gs.RegisterService(&eventServiceDesc, s)
}

// Stream sends every event published after the call until the client
// disconnects. The optional "kinds" request field (a list of strings)
// restricts the stream to those event kinds.
func (s *EventService) Stream(req *structpb.Struct, stream grpc.ServerStream) error {
	var kinds map[event.Kind]bool
	if v, ok := req.GetFields()["kinds"]; ok {
		list := v.GetListValue()
		if list == nil {
			return status.Error(codes.InvalidArgument, "kinds must be a list of strings")
		}
		kinds = make(map[event.Kind]bool)
		for _, k := range list.GetValues() {
			kinds[event.Kind(k.GetStringValue())] = true
		}
	}

	subID, ch := s.bus.Subscribe(4096)
	defer s.bus.Unsubscribe(subID)
	s.log.Info("grpc client subscribed", "subID", subID)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("grpc client disconnected", "subID", subID)
			return nil
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			if kinds != nil && !kinds[evt.Kind] {
				continue
			}
			msg, err := EventToStruct(evt)
			if err != nil {
				s.log.Error("encoding event", "kind", evt.Kind, "error", err)
				continue
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}

// EventToStruct converts an event into its Struct form.
func EventToStruct(evt event.Event) (*structpb.Struct, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// StructToEvent is the inverse of EventToStruct.
func StructToEvent(s *structpb.Struct) (event.Event, error) {
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return event.Event{}, err
	}
	var evt event.Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return event.Event{}, fmt.Errorf("decoding event: %w", err)
	}
	return evt, nil
}
