package server

import (
	"context"

	"github.com/tsarna/rxmsg/pkg/rxmsg/wire"
)

// Incoming is a message received on one of the server's connections.
type Incoming struct {
	Message wire.Message
	Socket  *wire.Socket
}

// IncomingRequest is a Request, Subscribe or Unsubscribe that can be answered.
type IncomingRequest struct {
	Incoming
	metrics *ServerMetrics
}

// Respond sends a Response carrying data to the originating connection,
// echoing the correlation id and channel. A nil data acknowledges without a
// payload.
func (r *IncomingRequest) Respond(ctx context.Context, data any) error {
	r.metrics.RecordResponse(ctx, false)
	return r.Socket.Send(ctx, r.response(data, nil))
}

// RespondError sends a Response carrying an application error.
func (r *IncomingRequest) RespondError(ctx context.Context, e wire.ErrorData) error {
	r.metrics.RecordResponse(ctx, true)
	return r.Socket.Send(ctx, r.response(nil, &e))
}

func (r *IncomingRequest) response(data any, e *wire.ErrorData) wire.Message {
	return wire.Message{
		Kind:          wire.KindResponse,
		Channel:       r.Message.Channel,
		Payload:       data,
		Error:         e,
		CorrelationID: r.Message.CorrelationID,
	}
}
