package webhook

import (
	"pedebot/internal/domain"
)

// businessObject is the only payload object the gateway accepts.
const businessObject = "whatsapp_business_account"

// --- WhatsApp webhook payload types ---

type waPayload struct {
	Object string    `json:"object"`
	Entry  []waEntry `json:"entry"`
}

type waEntry struct {
	ID      string     `json:"id"`
	Changes []waChange `json:"changes"`
}

type waChange struct {
	Value waValue `json:"value"`
	Field string  `json:"field"`
}

type waValue struct {
	Messages []waMessage `json:"messages"`
}

type waMessage struct {
	ID        string  `json:"id"`
	From      string  `json:"from"`
	To        string  `json:"to"`
	Text      *string `json:"text,omitempty"`
	Type      string  `json:"type"`
	Timestamp int64   `json:"timestamp"`
}

// extractMessages walks entry[*].changes[*].value.messages[*] and builds
// canonical message records. Entries and changes without a messages key are
// delivery/read receipts or other change types and simply contribute nothing;
// an empty result is not an error.
func extractMessages(p *waPayload, eventID string) []domain.Message {
	var out []domain.Message
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			for _, raw := range change.Value.Messages {
				out = append(out, domain.Message{
					ID:        raw.ID,
					From:      raw.From,
					To:        raw.To,
					Text:      raw.Text,
					Type:      domain.ParseMessageType(raw.Type),
					Timestamp: raw.Timestamp,
					EventID:   eventID,
				})
			}
		}
	}
	return out
}
