// Package webhook is the messaging provider ingest: handshake verification,
// signature checking, envelope parsing, and hand-off to the conversation
// orchestrator.
package webhook

import (
	"encoding/json"
)

// envelope is the provider's webhook body: entry → changes → value.
type envelope struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string `json:"field"`
			Value value  `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type value struct {
	MessagingProduct string `json:"messaging_product"`
	Contacts         []struct {
		WaID    string `json:"wa_id"`
		Profile struct {
			Name string `json:"name"`
		} `json:"profile"`
	} `json:"contacts"`
	Messages []inboundMessage `json:"messages"`
	Statuses []struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"statuses"`
}

type inboundMessage struct {
	ID   string `json:"id"`
	From string `json:"from"`
	Type string `json:"type"`
	Text *struct {
		Body string `json:"body"`
	} `json:"text"`
	Image *mediaPayload `json:"image"`
	Audio *mediaPayload `json:"audio"`
	Video *mediaPayload `json:"video"`
}

type mediaPayload struct {
	ID       string `json:"id"`
	Link     string `json:"link"`
	Caption  string `json:"caption"`
	MimeType string `json:"mime_type"`
}

// ParsedMessage is one inbound user message extracted from the envelope.
type ParsedMessage struct {
	ExternalMessageID string
	SenderExternalID  string
	SenderName        string
	Content           string
	MessageType       string
	MediaURL          *string
}

// parsePayload extracts the inbound messages from a raw webhook body.
// Status-only callbacks yield an empty slice; a malformed body returns an
// error the handler logs and acknowledges.
func parsePayload(body []byte) ([]ParsedMessage, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}

	var out []ParsedMessage
	for _, entry := range env.Entry {
		for _, change := range entry.Changes {
			names := make(map[string]string, len(change.Value.Contacts))
			for _, c := range change.Value.Contacts {
				names[c.WaID] = c.Profile.Name
			}

			for _, msg := range change.Value.Messages {
				parsed := ParsedMessage{
					ExternalMessageID: msg.ID,
					SenderExternalID:  msg.From,
					SenderName:        names[msg.From],
				}
				switch msg.Type {
				case "text":
					if msg.Text == nil {
						continue
					}
					parsed.MessageType = "text"
					parsed.Content = msg.Text.Body
				case "image":
					parsed.MessageType = "image"
					parsed.Content, parsed.MediaURL = mediaContent(msg.Image)
				case "audio":
					parsed.MessageType = "audio"
					parsed.Content, parsed.MediaURL = mediaContent(msg.Audio)
				case "video":
					parsed.MessageType = "video"
					parsed.Content, parsed.MediaURL = mediaContent(msg.Video)
				default:
					// Stickers, locations, reactions: ignored for now.
					continue
				}
				if parsed.ExternalMessageID == "" || parsed.SenderExternalID == "" {
					continue
				}
				out = append(out, parsed)
			}
		}
	}
	return out, nil
}

func mediaContent(m *mediaPayload) (string, *string) {
	if m == nil {
		return "", nil
	}
	var url *string
	if m.Link != "" {
		link := m.Link
		url = &link
	}
	return m.Caption, url
}
