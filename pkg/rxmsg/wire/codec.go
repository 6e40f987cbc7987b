package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type wireError struct {
	C string `json:"c"`
	M string `json:"m"`
}

type wireRecord struct {
	T Kind       `json:"t"`
	D any        `json:"d,omitempty"`
	E *wireError `json:"e,omitempty"`
	C *string    `json:"c,omitempty"`
	I *int64     `json:"i,omitempty"`
}

// inbound mirrors wireRecord with every field optional so that missing and
// null tags can be told apart from zero values.
type inbound struct {
	T *Kind           `json:"t"`
	D json.RawMessage `json:"d"`
	E *wireError      `json:"e"`
	C *string         `json:"c"`
	I *int64          `json:"i"`
}

var null = []byte("null")

// Encode produces the JSON record for m. Unset fields are omitted.
func Encode(m Message) ([]byte, error) {
	rec := wireRecord{
		T: m.Kind,
		C: m.Channel,
		I: m.CorrelationID,
	}
	if IsSet(m.Payload) {
		rec.D = m.Payload
	}
	if m.Error != nil {
		rec.E = &wireError{C: m.Error.Code, M: m.Error.Detail}
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnencodable, m.Kind, err)
	}
	return data, nil
}

// Decode parses one JSON record. The payload is decoded into generic JSON
// values (map[string]any, []any, float64, string, bool). A missing or null
// tag leaves the corresponding field unset.
func Decode(data []byte) (Message, error) {
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if in.T == nil {
		return Message{}, fmt.Errorf("%w: missing kind", ErrUnknownKind)
	}
	if !in.T.Valid() {
		return Message{}, fmt.Errorf("%w: %d", ErrUnknownKind, int(*in.T))
	}

	m := Message{
		Kind:          *in.T,
		Channel:       in.C,
		CorrelationID: in.I,
	}
	if in.E != nil {
		m.Error = &ErrorData{Code: in.E.C, Detail: in.E.M}
	}
	if len(in.D) > 0 && !bytes.Equal(in.D, null) {
		var payload any
		if err := json.Unmarshal(in.D, &payload); err != nil {
			return Message{}, fmt.Errorf("%w: payload: %v", ErrMalformedRecord, err)
		}
		m.Payload = payload
	}
	return m, nil
}
