package domain

import "time"

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignSending   CampaignStatus = "sending"
	CampaignSent      CampaignStatus = "sent"
	CampaignPaused    CampaignStatus = "paused"
	CampaignFailed    CampaignStatus = "failed"
	CampaignCancelled CampaignStatus = "cancelled"
)

// CampaignStats holds the aggregate counters tracked by the Campaign
// Registry. Counters are updated atomically; rates are always derived on
// read, never persisted as authoritative values (see (*Campaign).Rates).
type CampaignStats struct {
	TotalRecipients int    `json:"total_recipients" db:"total_recipients"`
	Sent            int    `json:"sent" db:"sent_count"`
	Delivered       int    `json:"delivered" db:"delivered_count"`
	Failed          int    `json:"failed" db:"failed_count"`
	Skipped         int    `json:"skipped" db:"skipped_count"`
	Bounced         int    `json:"bounced" db:"bounce_count"`
	Opened          int    `json:"opened" db:"open_count"`
	Clicked         int    `json:"clicked" db:"click_count"`
	Complained      int    `json:"complained" db:"complaint_count"`
	Unsubscribed    int    `json:"unsubscribed" db:"unsubscribe_count"`
	Error           string `json:"error,omitempty" db:"stats_error"`
}

// CampaignRates holds rates derived from CampaignStats on read. Never
// persisted as authoritative values.
type CampaignRates struct {
	DeliveryRate    float64 `json:"delivery_rate"`
	OpenRate        float64 `json:"open_rate"`
	ClickRate       float64 `json:"click_rate"`
	ClickToOpenRate float64 `json:"click_to_open_rate"`
	BounceRate      float64 `json:"bounce_rate"`
	UnsubscribeRate float64 `json:"unsubscribe_rate"`
}

// Campaign represents an email campaign with its content and delivery config.
type Campaign struct {
	ID             string         `json:"id" db:"id"`
	ListID         *string        `json:"list_id" db:"list_id"`
	SegmentID      *string        `json:"segment_id" db:"segment_id"`
	Name           string         `json:"name" db:"name"`
	Subject        string         `json:"subject" db:"subject"`
	FromName       string         `json:"from_name" db:"from_name"`
	FromEmail      string         `json:"from_email" db:"from_email"`
	ReplyTo        string         `json:"reply_to" db:"reply_to"`
	HTMLContent    string         `json:"html_content" db:"html_content"`
	PreviewText    string         `json:"preview_text" db:"preview_text"`
	Status         CampaignStatus `json:"status" db:"status"`
	ScheduledAt    *time.Time     `json:"scheduled_at" db:"scheduled_at"`
	TrackingDomain string         `json:"tracking_domain" db:"tracking_domain"`

	Stats CampaignStats `json:"stats" db:"-"`

	StartedAt   *time.Time `json:"started_at" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at" db:"completed_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// IsTerminal returns true if the campaign is in a final state.
func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignSent || c.Status == CampaignFailed || c.Status == CampaignCancelled
}

// Rates computes delivery/open/click/bounce/unsubscribe rates from the
// current stats counters using explicit denominators: open and click rates
// use delivered, bounce and unsubscribe rates use sent. Never persisted.
func (c *Campaign) Rates() CampaignRates {
	var r CampaignRates
	s := c.Stats
	if s.Sent > 0 {
		r.DeliveryRate = float64(s.Delivered) / float64(s.Sent)
	}
	if s.Delivered > 0 {
		r.OpenRate = float64(s.Opened) / float64(s.Delivered)
		r.ClickRate = float64(s.Clicked) / float64(s.Delivered)
	}
	if s.Opened > 0 {
		r.ClickToOpenRate = float64(s.Clicked) / float64(s.Opened)
	}
	if s.Sent > 0 {
		r.BounceRate = float64(s.Bounced) / float64(s.Sent)
		r.UnsubscribeRate = float64(s.Unsubscribed) / float64(s.Sent)
	}
	return r
}
