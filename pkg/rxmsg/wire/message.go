// Package wire defines the rxmsg message model and its on-the-wire form.
//
// Every frame on a connection is a 4-byte big-endian length followed by a JSON
// record using short tags:
//
//	t  message kind (0=subscribe, 1=unsubscribe, 2=data, 3=request, 4=response)
//	d  payload
//	e  error {c: code, m: detail}
//	c  channel name
//	i  correlation id
//
// Optional tags are omitted entirely when unset, and a decoder treats a missing
// tag as unset rather than as a zero value.
package wire

import "fmt"

// Kind identifies the role of a Message.
type Kind int

const (
	KindSubscribe Kind = iota
	KindUnsubscribe
	KindData
	KindRequest
	KindResponse
)

func (k Kind) String() string {
	switch k {
	case KindSubscribe:
		return "subscribe"
	case KindUnsubscribe:
		return "unsubscribe"
	case KindData:
		return "data"
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Valid reports whether k is one of the five protocol kinds.
func (k Kind) Valid() bool {
	return k >= KindSubscribe && k <= KindResponse
}

// ErrorData is the application error carried by a Response.
type ErrorData struct {
	Code   string
	Detail string
}

// Message is the unit of exchange. Nil pointer fields and a nil Payload are
// unset and are not written to the wire.
type Message struct {
	Kind          Kind
	Channel       *string
	Payload       any
	Error         *ErrorData
	CorrelationID *int64
}

// Str returns a pointer to s, for setting Message.Channel.
func Str(s string) *string {
	return &s
}

// ID returns a pointer to id, for setting Message.CorrelationID.
func ID(id int64) *int64 {
	return &id
}

// HasChannel reports whether the channel field is set.
func (m Message) HasChannel() bool {
	return m.Channel != nil
}

// ChannelName returns the channel, or "" when unset.
func (m Message) ChannelName() string {
	if m.Channel == nil {
		return ""
	}
	return *m.Channel
}

// ID returns the correlation id and whether it is set.
func (m Message) ID() (int64, bool) {
	if m.CorrelationID == nil {
		return 0, false
	}
	return *m.CorrelationID, true
}

// NewData builds a Data message for channel.
func NewData(channel string, payload any) Message {
	return Message{
		Kind:    KindData,
		Channel: Str(channel),
		Payload: payload,
	}
}
