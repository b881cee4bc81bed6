package channel

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/capitalize-ai/conversation-engine/internal/model"
)

// MetadataEntryPoint is the raw-message metadata key carrying the detected
// window entry point.
const MetadataEntryPoint = "entry_point"

// WhatsAppConfig holds WhatsApp Cloud API settings.
type WhatsAppConfig struct {
	AppSecret     string
	AccessToken   string
	PhoneNumberID string
	APIBaseURL    string
}

// WhatsAppAdapter speaks the WhatsApp Cloud API webhook and send formats.
type WhatsAppAdapter struct {
	cfg  WhatsAppConfig
	http *http.Client
}

// NewWhatsAppAdapter creates a WhatsApp adapter.
func NewWhatsAppAdapter(cfg WhatsAppConfig) *WhatsAppAdapter {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://graph.facebook.com/v19.0"
	}
	return &WhatsAppAdapter{
		cfg:  cfg,
		http: &http.Client{Timeout: 15 * time.Second},
	}
}

// Name implements Adapter.
func (a *WhatsAppAdapter) Name() string { return "whatsapp" }

// VerifySignature checks the X-Hub-Signature-256 header. With no app secret
// configured, verification is skipped.
func (a *WhatsAppAdapter) VerifySignature(signature string, body []byte) bool {
	if a.cfg.AppSecret == "" {
		return true
	}

	const prefix = "sha256="
	if !strings.HasPrefix(signature, prefix) {
		return false
	}

	mac := hmac.New(sha256.New, []byte(a.cfg.AppSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature[len(prefix):]))
}

// Cloud API webhook payload, trimmed to the fields the engine reads.
type waPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Contacts []struct {
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
					WaID string `json:"wa_id"`
				} `json:"contacts"`
				Messages []struct {
					From      string `json:"from"`
					ID        string `json:"id"`
					Type      string `json:"type"`
					Timestamp string `json:"timestamp"`
					Text      struct {
						Body string `json:"body"`
					} `json:"text"`
					Referral *struct {
						SourceType string `json:"source_type"`
						SourceID   string `json:"source_id"`
					} `json:"referral"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// ParseIncoming normalizes a webhook payload. Status updates, read receipts
// and non-text messages yield a nil message.
func (a *WhatsAppAdapter) ParseIncoming(body []byte) (*model.RawMessage, error) {
	var payload waPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode webhook payload: %w", err)
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			value := change.Value
			if len(value.Messages) == 0 {
				continue
			}
			msg := value.Messages[0]
			if msg.Type != "text" || msg.Text.Body == "" {
				continue
			}

			raw := &model.RawMessage{
				Channel:       a.Name(),
				ChannelUserID: msg.From,
				Content:       msg.Text.Body,
				MessageID:     msg.ID,
			}

			for _, c := range value.Contacts {
				if c.WaID == msg.From {
					raw.SenderName = c.Profile.Name
				}
			}

			if msg.Referral != nil && msg.Referral.SourceType == "ad" {
				raw.Metadata = map[string]string{
					MetadataEntryPoint: string(model.EntryPointCTWAAd),
					"ad_id":            msg.Referral.SourceID,
				}
			}

			return raw, nil
		}
	}

	return nil, nil
}

// Send delivers a text message through the Cloud API.
func (a *WhatsAppAdapter) Send(ctx context.Context, to string, msg *model.Message) error {
	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text": map[string]string{
			"body": msg.Content,
		},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", a.cfg.APIBaseURL, a.cfg.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("send failed with status %d: %s", resp.StatusCode, body)
	}
	return nil
}
