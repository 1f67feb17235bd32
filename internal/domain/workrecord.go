package domain

import "time"

// WorkRecordStatus enumerates the lifecycle of a single recipient's send
// attempt within a campaign.
type WorkRecordStatus string

const (
	WorkPending   WorkRecordStatus = "pending"
	WorkSending   WorkRecordStatus = "sending"
	WorkSent      WorkRecordStatus = "sent"
	WorkDelivered WorkRecordStatus = "delivered"
	WorkFailed    WorkRecordStatus = "failed"
	WorkBounced   WorkRecordStatus = "bounced"
	WorkSkipped   WorkRecordStatus = "skipped"
)

// WorkRecord is the durable per-recipient send record keyed by a
// deterministic fingerprint. It is the system's source of truth for
// whether a given recipient has already been (or is being) sent to for a
// given campaign.
type WorkRecord struct {
	Fingerprint        string           `json:"fingerprint" db:"fingerprint"`
	CampaignID         string           `json:"campaign_id" db:"campaign_id"`
	Email              string           `json:"email" db:"email"`
	CustomerID         string           `json:"customer_id,omitempty" db:"customer_id"`
	Body               string           `json:"-" db:"body"`
	Status             WorkRecordStatus `json:"status" db:"status"`
	Attempts           int              `json:"attempts" db:"attempts"`
	LockedBy           string           `json:"locked_by,omitempty" db:"locked_by"`
	LockedAt           *time.Time       `json:"locked_at,omitempty" db:"locked_at"`
	ExternalMessageID  string           `json:"external_message_id,omitempty" db:"external_message_id"`
	LastError          string           `json:"last_error,omitempty" db:"last_error"`
	SkippedAt          *time.Time       `json:"skipped_at,omitempty" db:"skipped_at"`
	CreatedAt          time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at" db:"updated_at"`
}

// IsTerminal reports whether the record can no longer be claimed for
// processing (a successful or permanently-resolved outcome already exists).
func (w *WorkRecord) IsTerminal() bool {
	switch w.Status {
	case WorkSent, WorkDelivered, WorkBounced, WorkSkipped:
		return true
	default:
		return false
	}
}
