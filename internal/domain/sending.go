package domain

import "time"

// EmailMessage is the fully-resolved message ready for the Provider Client.
// By the time a message reaches this struct, all template substitution and
// tracking injection is complete.
type EmailMessage struct {
	ID          string            `json:"id"`
	CampaignID  string            `json:"campaign_id"`
	CustomerID  string            `json:"customer_id"`
	Email       string            `json:"email"`
	FromName    string            `json:"from_name"`
	FromEmail   string            `json:"from_email"`
	ReplyTo     string            `json:"reply_to"`
	Subject     string            `json:"subject"`
	HTMLContent string            `json:"html_content"`
	TextContent string            `json:"text_content"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// SendResult is returned by the Provider Client after attempting delivery.
type SendResult struct {
	Success           bool      `json:"success"`
	ProviderMessageID string    `json:"provider_message_id"`
	SentAt            time.Time `json:"sent_at"`
}
