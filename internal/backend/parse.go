package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"aichat/internal/domain"
)

// NoReplyText is used when a successful response carries no reply.
const NoReplyText = "No reply returned"

var structuredKeys = []string{"summary", "keyPoints", "nextActions"}

// ParseReply decodes a successful /chat response body and classifies its reply field.
func ParseReply(body []byte) (domain.Reply, error) {
	var payload any
	if err := json.Unmarshal(bytes.TrimSpace(body), &payload); err != nil {
		return domain.Reply{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	obj, ok := payload.(map[string]any)
	if !ok {
		return domain.TextReply(NoReplyText), nil
	}
	return ClassifyReply(obj["reply"]), nil
}

// ClassifyReply is the single conversion from a raw JSON reply value to a Reply.
// An object holding at least one structured key becomes Structured; everything
// else is coerced to text.
func ClassifyReply(raw any) domain.Reply {
	if raw == nil {
		return domain.TextReply(NoReplyText)
	}
	if obj, ok := raw.(map[string]any); ok && hasStructuredKey(obj) {
		return domain.StructuredReplyOf(structuredFrom(obj))
	}
	return domain.TextReply(coerceString(raw))
}

func hasStructuredKey(obj map[string]any) bool {
	for _, k := range structuredKeys {
		if _, ok := obj[k]; ok {
			return true
		}
	}
	return false
}

func structuredFrom(obj map[string]any) *domain.StructuredReply {
	out := &domain.StructuredReply{}
	if s, ok := obj["summary"].(string); ok {
		out.Summary = s
	}
	out.KeyPoints = stringList(obj["keyPoints"])
	out.NextActions = stringList(obj["nextActions"])
	return out
}

// stringList keeps arrays (even empty ones) and drops any other type.
func stringList(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		out = append(out, elementString(item))
	}
	return out
}

func elementString(v any) string {
	if v == nil {
		return ""
	}
	return coerceString(v)
}

// coerceString follows JavaScript String() for decoded JSON values.
func coerceString(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return formatNumber(val)
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = elementString(item)
		}
		return strings.Join(parts, ",")
	case map[string]any:
		return "[object Object]"
	default:
		return fmt.Sprint(val)
	}
}

func formatNumber(f float64) string {
	abs := math.Abs(f)
	if abs == 0 {
		return "0" // negative zero too
	}
	if abs >= 1e-6 && abs < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	s := strconv.FormatFloat(f, 'e', -1, 64)
	// JS writes 1e-7 where Go writes 1e-07.
	s = strings.Replace(s, "e-0", "e-", 1)
	s = strings.Replace(s, "e+0", "e+", 1)
	return s
}
