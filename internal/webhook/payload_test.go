package webhook

import "testing"

const textPayload = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "1234567890",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "contacts": [{"wa_id": "573001112233", "profile": {"name": "Ana Rodríguez"}}],
        "messages": [{
          "id": "wamid.abc123",
          "from": "573001112233",
          "type": "text",
          "text": {"body": "hola, quiero información"}
        }]
      }
    }]
  }]
}`

const mediaPayloadBody = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "changes": [{
      "field": "messages",
      "value": {
        "contacts": [{"wa_id": "573001112233", "profile": {"name": "Ana"}}],
        "messages": [{
          "id": "wamid.img1",
          "from": "573001112233",
          "type": "image",
          "image": {"id": "media-1", "link": "https://cdn.example.com/a.jpg", "caption": "mi oficina"}
        }]
      }
    }]
  }]
}`

const statusPayload = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "changes": [{
      "field": "messages",
      "value": {
        "statuses": [{"id": "wamid.abc123", "status": "delivered"}]
      }
    }]
  }]
}`

func TestParsePayloadText(t *testing.T) {
	msgs, err := parsePayload([]byte(textPayload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	m := msgs[0]
	if m.ExternalMessageID != "wamid.abc123" {
		t.Fatalf("unexpected external id %q", m.ExternalMessageID)
	}
	if m.SenderExternalID != "573001112233" {
		t.Fatalf("unexpected sender %q", m.SenderExternalID)
	}
	if m.SenderName != "Ana Rodríguez" {
		t.Fatalf("unexpected sender name %q", m.SenderName)
	}
	if m.MessageType != "text" || m.Content != "hola, quiero información" {
		t.Fatalf("unexpected content: %+v", m)
	}
}

func TestParsePayloadMedia(t *testing.T) {
	msgs, err := parsePayload([]byte(mediaPayloadBody))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	m := msgs[0]
	if m.MessageType != "image" {
		t.Fatalf("expected image type, got %q", m.MessageType)
	}
	if m.Content != "mi oficina" {
		t.Fatalf("expected caption as content, got %q", m.Content)
	}
	if m.MediaURL == nil || *m.MediaURL != "https://cdn.example.com/a.jpg" {
		t.Fatalf("unexpected media url: %v", m.MediaURL)
	}
}

func TestParsePayloadStatusOnly(t *testing.T) {
	msgs, err := parsePayload([]byte(statusPayload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected delivery receipts to be ignored, got %d messages", len(msgs))
	}
}

func TestParsePayloadMalformed(t *testing.T) {
	if _, err := parsePayload([]byte(`{"entry": "not-an-array"}`)); err == nil {
		t.Fatal("expected malformed payload to error")
	}
}

func TestParsePayloadUnknownTypeIgnored(t *testing.T) {
	body := `{
	  "entry": [{"changes": [{"value": {"messages": [{
	    "id": "wamid.x", "from": "573001112233", "type": "sticker"
	  }]}}]}]
	}`
	msgs, err := parsePayload([]byte(body))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected unknown types to be skipped, got %d", len(msgs))
	}
}
