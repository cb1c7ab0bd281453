package extract

import (
	"encoding/json"
	"fmt"
	"strings"
)

// wrapperKeys are tried in order when the service wraps a list inside
// an object instead of returning a bare array.
var wrapperKeys = []string{"stocks", "mentions", "stock_mentions", "results"}

// stripFences removes markdown code fences and surrounding chatter,
// leaving the raw payload.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.Index(s, "```"); idx >= 0 {
		s = s[idx+3:]
		s = strings.TrimPrefix(s, "json")
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
	}
	return strings.TrimSpace(s)
}

// extractBracketed scans for the outermost open..close pair, cutting
// away any commentary the model prepended or appended.
func extractBracketed(s string, open, closing byte) (string, bool) {
	start := strings.IndexByte(s, open)
	end := strings.LastIndexByte(s, closing)
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

// decodeObject recovers a JSON object from a possibly noisy response.
func decodeObject(raw string, out any) error {
	s := stripFences(raw)
	obj, ok := extractBracketed(s, '{', '}')
	if !ok {
		return fmt.Errorf("no JSON object in response")
	}
	if err := json.Unmarshal([]byte(obj), out); err != nil {
		return fmt.Errorf("decode object: %w", err)
	}
	return nil
}

// decodeList recovers a JSON array from a possibly noisy response.
// The service sometimes wraps the array in an object under an
// unpredictable key; known keys are tried first, then the first
// list-valued member.
func decodeList(raw string, out any) error {
	s := stripFences(raw)

	if arr, ok := extractBracketed(s, '[', ']'); ok {
		// an object containing a list also matches the bracket scan,
		// so only take this path when the array comes first
		objStart := strings.IndexByte(s, '{')
		arrStart := strings.IndexByte(s, '[')
		if objStart < 0 || arrStart < objStart {
			if err := json.Unmarshal([]byte(arr), out); err == nil {
				return nil
			}
		}
	}

	obj, ok := extractBracketed(s, '{', '}')
	if !ok {
		return fmt.Errorf("no JSON payload in response")
	}

	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal([]byte(obj), &wrapper); err != nil {
		return fmt.Errorf("decode wrapper object: %w", err)
	}

	for _, key := range wrapperKeys {
		if rawList, found := wrapper[key]; found && isList(rawList) {
			if err := json.Unmarshal(rawList, out); err != nil {
				return fmt.Errorf("decode %q list: %w", key, err)
			}
			return nil
		}
	}
	for _, rawList := range wrapper {
		if isList(rawList) {
			if err := json.Unmarshal(rawList, out); err == nil {
				return nil
			}
		}
	}
	return fmt.Errorf("no list found in wrapper object")
}

func isList(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return strings.HasPrefix(trimmed, "[")
}
