package interceptor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/failsafe/pkg/audit"
	"github.com/Mindburn-Labs/failsafe/pkg/contracts"
)

func TestWrapA2AMessage(t *testing.T) {
	i, logger := newInterceptor(t)
	envelope := map[string]any{
		"id": "task-7",
		"message": map[string]any{
			"role": "agent",
			"parts": []any{
				map[string]any{"type": "text", "text": `{"symbol": "AAPL"}`},
				map[string]any{"kind": "data", "data": map[string]any{"amount": 5000.0}},
			},
			"metadata": map[string]any{"trace": "t-1"},
		},
	}

	res, annotated := i.WrapA2AMessage(context.Background(), "research", "trader", envelope)
	assert.True(t, res.Passed(), res.Summary())

	msg := annotated["message"].(map[string]any)
	meta := msg["metadata"].(map[string]any)
	assert.Equal(t, "t-1", meta["trace"])
	assert.Equal(t, "agent", msg["role"])
	assert.Equal(t, "task-7", annotated["id"])

	note := meta[AnnotationKey].(map[string]any)
	assert.Equal(t, true, note["validated"])
	assert.Equal(t, "pass", note["result"])
	assert.Equal(t, res.HandoffID, note["handoff_id"])
	assert.Equal(t, 0, note["violations"])
	assert.Equal(t, false, note["blocked"])
	assert.NotEmpty(t, note["timestamp"])

	orig := envelope["message"].(map[string]any)["metadata"].(map[string]any)
	assert.NotContains(t, orig, AnnotationKey, "input envelope is not modified")

	recs, err := logger.Records(context.Background(), audit.Filter{})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestWrapA2AMessage_PlainText(t *testing.T) {
	i, _ := newInterceptor(t)
	envelope := map[string]any{
		"message": map[string]any{
			"parts": []any{map[string]any{"type": "text", "text": "buy AAPL please"}},
		},
	}

	res, annotated := i.WrapA2AMessage(context.Background(), "research", "trader", envelope)
	require.NotNil(t, res.Payload)
	assert.Equal(t, "buy AAPL please", res.Payload.Data["text"])
	assert.Equal(t, contracts.OutcomeFail, res.OverallResult())

	note := annotated["message"].(map[string]any)["metadata"].(map[string]any)[AnnotationKey].(map[string]any)
	assert.Equal(t, true, note["blocked"])
	assert.Equal(t, res.TotalViolations(), note["violations"])
}

func TestWrapA2AMessage_EmptyEnvelope(t *testing.T) {
	i, _ := newInterceptor(t)
	res, annotated := i.WrapA2AMessage(context.Background(), "research", "trader", nil)
	assert.Equal(t, contracts.OutcomeFail, res.OverallResult())
	assert.Contains(t, annotated["message"].(map[string]any)["metadata"], AnnotationKey)
}
