package transform

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/itchyny/gojq"
	"go.uber.org/zap"
)

// JqTransform compiles a jq query and returns a transform that replaces each
// publication's payload with the query result. The channel name is available
// to the query as $channel.
//
// A query producing several results yields an array; a query producing no
// result drops the publication. Runtime errors are logged and the publication
// passes through unchanged.
//
//	wrap, err := JqTransform(`{channel: $channel, data: .}`, logger)
func JqTransform(query string, logger *zap.Logger) (PublishTransformFunc, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	parsed, err := gojq.Parse(query)
	if err != nil {
		return nil, fmt.Errorf("failed to parse jq query '%s': %w", query, err)
	}
	code, err := gojq.Compile(parsed, gojq.WithVariables([]string{"$channel"}))
	if err != nil {
		return nil, fmt.Errorf("failed to compile jq query '%s': %w", query, err)
	}

	return func(p *Publication) (*Publication, bool) {
		log := logger.With(zap.String("jq_query", query), zap.String("channel", p.Channel))

		input, err := jqInput(p.Payload)
		if err != nil {
			log.Error("jq transform: payload is not representable as JSON", zap.Error(err))
			return p, true
		}

		ctx := p.Ctx
		if ctx == nil {
			ctx = context.Background()
		}
		iter := code.RunWithContext(ctx, input, p.Channel)

		var results []any
		for {
			v, ok := iter.Next()
			if !ok {
				break
			}
			if err, isErr := v.(error); isErr {
				log.Error("jq transform: execution error", zap.Error(err))
				return p, true
			}
			results = append(results, v)
		}

		var payload any
		switch len(results) {
		case 0:
			return nil, false
		case 1:
			payload = results[0]
		default:
			payload = results
		}

		return &Publication{Ctx: p.Ctx, Channel: p.Channel, Payload: payload}, true
	}, nil
}

// jqInput brings a payload into the plain map/slice/primitive form gojq
// accepts. JSON text is parsed; anything with structs or non-generic
// containers is round-tripped through encoding/json.
func jqInput(payload any) (any, error) {
	switch v := payload.(type) {
	case nil, bool, string, float64, int, map[string]any, []any:
		if s, ok := v.(string); ok {
			var parsed any
			if json.Unmarshal([]byte(s), &parsed) == nil {
				return parsed, nil
			}
		}
		return v, nil
	case []byte:
		var parsed any
		if json.Unmarshal(v, &parsed) == nil {
			return parsed, nil
		}
		return string(v), nil
	}

	switch reflect.TypeOf(payload).Kind() {
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32:
		return reflect.ValueOf(payload).Convert(reflect.TypeOf(float64(0))).Interface(), nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
