package service

import "fmt"

// Payload accessors tolerate missing keys and values of the wrong type:
// action payloads arrive as decoded JSON from untrusted clients.

func payloadString(p map[string]any, key string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func payloadStrings(p map[string]any, key string) []string {
	switch v := p[key].(type) {
	case []string:
		return append([]string{}, v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func payloadMap(p map[string]any, key string) map[string]any {
	m, _ := p[key].(map[string]any)
	return m
}
