package contracts

import (
	"time"

	"github.com/google/uuid"
)

// Well-known metadata keys.
const (
	MetaAction        = "action"
	MetaRequestID     = "request_id"
	MetaTimestamp     = "timestamp"
	MetaInitiator     = "initiator"
	MetaHumanApproved = "human_approved"
	MetaApprovedBy    = "approved_by"
	MetaMNPIReviewed  = "mnpi_reviewed"
)

// HandoffPayload is the data moving across one handoff. Data and Metadata
// are separate namespaces: Data["action"] never shadows Metadata["action"].
type HandoffPayload struct {
	HandoffID string         `json:"handoff_id"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
	Metadata  map[string]any `json:"metadata"`
}

// NewPayload builds a payload with a fresh handoff id. Nil maps become empty.
func NewPayload(data, metadata map[string]any) HandoffPayload {
	if data == nil {
		data = map[string]any{}
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	return HandoffPayload{
		HandoffID: uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Data:      data,
		Metadata:  metadata,
	}
}

// Action returns metadata.action when it is a non-empty string.
func (p HandoffPayload) Action() string {
	s, _ := p.Metadata[MetaAction].(string)
	return s
}

// Meta returns a metadata value and whether it is present and non-nil.
func (p HandoffPayload) Meta(key string) (any, bool) {
	v, ok := p.Metadata[key]
	return v, ok && v != nil
}
