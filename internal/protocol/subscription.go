package protocol

import (
	"encoding/json"
)

// Subscription selects a topic and an optional set of server-side filters.
// Two subscriptions are equal when their topics and filters are
// structurally equal; Key gives that identity as a string.
type Subscription struct {
	Topic   string         `json:"topic"`
	Filters map[string]any `json:"filters"`
}

// MarshalJSON always writes filters as an object, never null.
func (s Subscription) MarshalJSON() ([]byte, error) {
	filters := s.Filters
	if filters == nil {
		filters = map[string]any{}
	}
	return json.Marshal(struct {
		Topic   string         `json:"topic"`
		Filters map[string]any `json:"filters"`
	}{s.Topic, filters})
}

// Key returns the canonical identity of the subscription. encoding/json
// sorts map keys, so structurally equal filters yield the same key; numbers
// are normalized through a decode round trip so 1 and 1.0 compare equal.
func (s Subscription) Key() string {
	raw, err := json.Marshal(s)
	if err != nil {
		return s.Topic
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return string(raw)
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return string(raw)
	}
	return string(canonical)
}

// Equal reports structural equality.
func (s Subscription) Equal(other Subscription) bool {
	return s.Key() == other.Key()
}

// Clone returns a deep copy; nested maps and slices in the filters are
// copied too, so the result shares no memory with s.
func (s Subscription) Clone() Subscription {
	var filters map[string]any
	if s.Filters != nil {
		filters = cloneValue(s.Filters).(map[string]any)
	}
	return Subscription{Topic: s.Topic, Filters: filters}
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(t))
		for k, e := range t {
			out[k] = e
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case json.RawMessage:
		return append(json.RawMessage(nil), t...)
	default:
		return v
	}
}
