package audit

import (
	"encoding/json"
	"time"
)

// Log rows are written exclusively by the audit_status_change trigger;
// Go code only reads them.
type Log struct {
	ID             int64           `json:"id"`
	ApplicationID  string          `json:"application_id"`
	PreviousStatus *string         `json:"previous_status,omitempty"`
	NewStatus      string          `json:"new_status"`
	ChangedBy      string          `json:"changed_by"`
	ChangeReason   string          `json:"change_reason"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}
