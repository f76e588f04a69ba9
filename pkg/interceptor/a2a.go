package interceptor

import (
	"context"
	"encoding/json"
	"maps"
	"time"

	"github.com/Mindburn-Labs/failsafe/pkg/contracts"
)

// AnnotationKey is the message metadata key the validation summary is
// written under.
const AnnotationKey = "failsafe"

// WrapA2AMessage validates an agent-to-agent protocol envelope of the form
// {"message": {"parts": [...], "metadata": {...}}} as an outgoing handoff.
//
// Text parts holding a JSON object are merged into the payload; any other
// text becomes {"text": raw}. Data parts merge directly. The returned
// envelope is a copy of the input with the result summary written to
// message.metadata.failsafe.
func (i *Interceptor) WrapA2AMessage(ctx context.Context, from, to string, envelope map[string]any) (*contracts.HandoffValidationResult, map[string]any) {
	msg, _ := envelope["message"].(map[string]any)

	data := map[string]any{}
	parts, _ := msg["parts"].([]any)
	for _, raw := range parts {
		part, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		switch partKind(part) {
		case "text":
			text, _ := part["text"].(string)
			var decoded map[string]any
			if err := json.Unmarshal([]byte(text), &decoded); err == nil && decoded != nil {
				maps.Copy(data, decoded)
			} else {
				data["text"] = text
			}
		case "data":
			if d, ok := part["data"].(map[string]any); ok {
				maps.Copy(data, d)
			}
		}
	}

	metadata := map[string]any{}
	if m, ok := msg["metadata"].(map[string]any); ok {
		maps.Copy(metadata, m)
	}

	result := i.ValidateOutgoing(ctx, from, to, data, metadata)

	annotatedMeta := maps.Clone(metadata)
	annotatedMeta[AnnotationKey] = map[string]any{
		"validated":  true,
		"result":     string(result.OverallResult()),
		"handoff_id": result.HandoffID,
		"violations": result.TotalViolations(),
		"blocked":    result.IsBlocked(),
		"timestamp":  result.Timestamp.UTC().Format(time.RFC3339Nano),
	}

	annotatedMsg := maps.Clone(msg)
	if annotatedMsg == nil {
		annotatedMsg = map[string]any{}
	}
	annotatedMsg["metadata"] = annotatedMeta

	annotated := maps.Clone(envelope)
	if annotated == nil {
		annotated = map[string]any{}
	}
	annotated["message"] = annotatedMsg
	return result, annotated
}

// partKind reads the part discriminator, "kind" in current envelopes and
// "type" in older ones.
func partKind(part map[string]any) string {
	if k, ok := part["kind"].(string); ok {
		return k
	}
	k, _ := part["type"].(string)
	return k
}
