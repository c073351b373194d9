package actor

import "context"

// Sender is the message-submission half of the [Runtime], what actors hold to
// route replies.
type Sender interface {
	Send(ctx context.Context, actorID string, msg Message) error
}

// Payload field accessors. Payloads travel as map[string]any (they cross the
// event store as JSON), so numbers may arrive as int, int64, or float64; the
// accessors normalise that.

// PayloadString returns the string under key, or "" when absent or not a
// string.
func PayloadString(payload map[string]any, key string) string {
	if s, ok := payload[key].(string); ok {
		return s
	}
	return ""
}

// PayloadInt returns the integer under key, or fallback when absent or not
// numeric.
func PayloadInt(payload map[string]any, key string, fallback int) int {
	switch v := payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}

// PayloadFloat returns the float under key, or fallback when absent or not
// numeric.
func PayloadFloat(payload map[string]any, key string, fallback float64) float64 {
	switch v := payload[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return fallback
}

// PayloadBool returns the bool under key, or false when absent.
func PayloadBool(payload map[string]any, key string) bool {
	b, _ := payload[key].(bool)
	return b
}

// PayloadMap returns the nested map under key, or nil.
func PayloadMap(payload map[string]any, key string) map[string]any {
	m, _ := payload[key].(map[string]any)
	return m
}

// PayloadSlice returns the slice under key, or nil.
func PayloadSlice(payload map[string]any, key string) []any {
	s, _ := payload[key].([]any)
	return s
}

// PayloadFloats returns the float slice under key, accepting []float64,
// []float32, and []any elements.
func PayloadFloats(payload map[string]any, key string) []float64 {
	switch v := payload[key].(type) {
	case []float64:
		return v
	case []float32:
		out := make([]float64, len(v))
		for i, f := range v {
			out[i] = float64(f)
		}
		return out
	case []any:
		out := make([]float64, 0, len(v))
		for _, item := range v {
			switch f := item.(type) {
			case float64:
				out = append(out, f)
			case int:
				out = append(out, float64(f))
			}
		}
		return out
	}
	return nil
}

// PayloadStrings returns the string slice under key, accepting []string and
// []any elements.
func PayloadStrings(payload map[string]any, key string) []string {
	switch v := payload[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// PayloadFloatMap returns the string-to-float map under key, accepting
// map[string]float64 and map[string]any values.
func PayloadFloatMap(payload map[string]any, key string) map[string]float64 {
	switch v := payload[key].(type) {
	case map[string]float64:
		return v
	case map[string]any:
		out := make(map[string]float64, len(v))
		for k, item := range v {
			switch f := item.(type) {
			case float64:
				out[k] = f
			case int:
				out[k] = float64(f)
			}
		}
		return out
	}
	return nil
}
