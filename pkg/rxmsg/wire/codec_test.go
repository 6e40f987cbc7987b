package wire

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeOmitsUnsetFields(t *testing.T) {
	data, err := Encode(Message{Kind: KindSubscribe, Channel: Str("news")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"t":0,"c":"news"}`, string(data))

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.NotContains(t, raw, "d")
	assert.NotContains(t, raw, "e")
	assert.NotContains(t, raw, "i")
}

func TestEncodeKeepsFalsyValues(t *testing.T) {
	data, err := Encode(Message{
		Kind:          KindRequest,
		Channel:       Str(""),
		Payload:       0,
		CorrelationID: ID(0),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"t":3,"c":"","d":0,"i":0}`, string(data))

	data, err = Encode(Message{Kind: KindData, Payload: false})
	require.NoError(t, err)
	assert.JSONEq(t, `{"t":2,"d":false}`, string(data))

	data, err = Encode(Message{Kind: KindData, Payload: map[string]any{}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"t":2,"d":{}}`, string(data))
}

func TestEncodeError(t *testing.T) {
	data, err := Encode(Message{
		Kind:          KindResponse,
		Error:         &ErrorData{Code: "ENOPE", Detail: "not allowed"},
		CorrelationID: ID(7),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"t":4,"e":{"c":"ENOPE","m":"not allowed"},"i":7}`, string(data))
}

func TestEncodeUnsupportedPayload(t *testing.T) {
	_, err := Encode(Message{Kind: KindData, Payload: math.Inf(1)})
	assert.ErrorIs(t, err, ErrUnencodable)
}

func TestDecode(t *testing.T) {
	t.Run("full record", func(t *testing.T) {
		m, err := Decode([]byte(`{"t":4,"c":"calc","d":{"sum":3},"e":{"c":"X","m":"y"},"i":12}`))
		require.NoError(t, err)

		assert.Equal(t, KindResponse, m.Kind)
		assert.Equal(t, "calc", m.ChannelName())
		assert.Equal(t, map[string]any{"sum": float64(3)}, m.Payload)
		assert.Equal(t, &ErrorData{Code: "X", Detail: "y"}, m.Error)

		id, ok := m.ID()
		assert.True(t, ok)
		assert.Equal(t, int64(12), id)
	})

	t.Run("missing tags are unset", func(t *testing.T) {
		m, err := Decode([]byte(`{"t":2}`))
		require.NoError(t, err)

		assert.Equal(t, KindData, m.Kind)
		assert.False(t, m.HasChannel())
		assert.Nil(t, m.Payload)
		assert.Nil(t, m.Error)
		_, ok := m.ID()
		assert.False(t, ok)
	})

	t.Run("null is treated as absent", func(t *testing.T) {
		m, err := Decode([]byte(`{"t":2,"c":null,"d":null,"e":null,"i":null}`))
		require.NoError(t, err)

		assert.False(t, m.HasChannel())
		assert.False(t, IsSet(m.Payload))
		assert.Nil(t, m.Error)
		assert.Nil(t, m.CorrelationID)
	})

	t.Run("zero values are set", func(t *testing.T) {
		m, err := Decode([]byte(`{"t":3,"c":"","d":0,"i":0}`))
		require.NoError(t, err)

		assert.True(t, m.HasChannel())
		assert.Equal(t, float64(0), m.Payload)
		id, ok := m.ID()
		assert.True(t, ok)
		assert.Zero(t, id)
	})
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		target error
	}{
		{"not json", `{"t":`, ErrMalformedRecord},
		{"not an object", `[1,2,3]`, ErrMalformedRecord},
		{"missing kind", `{"c":"x"}`, ErrUnknownKind},
		{"null kind", `{"t":null}`, ErrUnknownKind},
		{"kind out of range", `{"t":9}`, ErrUnknownKind},
		{"negative kind", `{"t":-1}`, ErrUnknownKind},
		{"wrong field type", `{"t":2,"c":5}`, ErrMalformedRecord},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.input))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.target), "got %v", err)
		})
	}
}

func TestRoundTripPreservesPresence(t *testing.T) {
	messages := []Message{
		{Kind: KindSubscribe, Channel: Str("a"), CorrelationID: ID(1)},
		{Kind: KindUnsubscribe, Channel: Str("a")},
		NewData("a", "hello"),
		{Kind: KindRequest, Payload: []any{float64(1), "two"}, CorrelationID: ID(99)},
		{Kind: KindResponse, Error: &ErrorData{Code: "", Detail: ""}, CorrelationID: ID(3)},
	}

	for _, want := range messages {
		t.Run(want.Kind.String(), func(t *testing.T) {
			data, err := Encode(want)
			require.NoError(t, err)

			got, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "subscribe", KindSubscribe.String())
	assert.Equal(t, "response", KindResponse.String())
	assert.Equal(t, "kind(7)", Kind(7).String())
	assert.False(t, Kind(5).Valid())
}

func TestTypedError(t *testing.T) {
	err := error(NewTypedError("EAUTH", "bad token"))
	assert.Equal(t, "EAUTH: bad token", err.Error())

	var typed *TypedError
	require.True(t, errors.As(err, &typed))
	assert.Equal(t, ErrorData{Code: "EAUTH", Detail: "bad token"}, typed.ErrorData())

	assert.Equal(t, "just detail", NewTypedError("", "just detail").Error())
}
