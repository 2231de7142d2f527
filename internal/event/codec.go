package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

var ErrUnknownType = errors.New("unknown event type")

// TickIndex places a block tick after every event of its block.
const TickIndex = math.MaxUint32

// wireEvent is the JSON form used on NATS and in the event log.
type wireEvent struct {
	Type string          `json:"type"`
	Meta Context         `json:"meta"`
	Data json.RawMessage `json:"data"`
}

// NewBlockTick builds the tick of a block.
func NewBlockTick(ctx Context) *BlockTick {
	ctx.EventIndex = TickIndex
	t := &BlockTick{}
	t.SetMeta(ctx)
	return t
}

// Encode serializes an event with its context.
func Encode(e Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", e.EventType(), err)
	}
	return json.Marshal(wireEvent{Type: e.EventType().String(), Meta: e.Meta(), Data: data})
}

// Decode parses an encoded event.
func Decode(raw []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	et, ok := ParseEventType(w.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, w.Type)
	}
	e := New(et)
	if len(w.Data) > 0 && string(w.Data) != "null" {
		if err := json.Unmarshal(w.Data, e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", w.Type, err)
		}
	}
	if et == EventTypeBlockTick {
		w.Meta.EventIndex = TickIndex
	}
	e.SetMeta(w.Meta)
	return e, nil
}
