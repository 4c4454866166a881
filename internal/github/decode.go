package github

import (
	"context"
	"encoding/json"
	"fmt"
)

// DeadLetterSink receives payloads that failed validation. The store provides
// the durable implementation; tests swap in a recorder.
type DeadLetterSink interface {
	Record(ctx context.Context, source, deliveryID, reason, payload string) error
}

// maxDeadLetterPayload bounds the raw payload retained with a dead letter.
const maxDeadLetterPayload = 4096

// decodeLenient decodes each element of a raw JSON array independently.
// Elements that fail decoding or validation are diverted to the sink with
// their index and a truncated copy of the payload; valid siblings survive.
// A validate func of nil accepts every decoded element.
func decodeLenient[T any](ctx context.Context, sink DeadLetterSink, source string, raw []json.RawMessage, validate func(*T) error) []*T {
	out := make([]*T, 0, len(raw))
	for i, el := range raw {
		v := new(T)
		if err := json.Unmarshal(el, v); err != nil {
			divert(ctx, sink, source, i, err, el)
			continue
		}
		if validate != nil {
			if err := validate(v); err != nil {
				divert(ctx, sink, source, i, err, el)
				continue
			}
		}
		out = append(out, v)
	}
	return out
}

func divert(ctx context.Context, sink DeadLetterSink, source string, index int, cause error, payload json.RawMessage) {
	if sink == nil {
		return
	}
	p := string(payload)
	if len(p) > maxDeadLetterPayload {
		p = p[:maxDeadLetterPayload]
	}
	deliveryID := fmt.Sprintf("%s[%d]", source, index)
	// A failing sink must not abort the batch either.
	_ = sink.Record(ctx, source, deliveryID, cause.Error(), p)
}
