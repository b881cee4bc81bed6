package channel

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/conversation-engine/internal/model"
)

const waTextPayload = `{
	"entry": [{
		"changes": [{
			"value": {
				"contacts": [{"profile": {"name": "Ada Lovelace"}, "wa_id": "15550001111"}],
				"messages": [{
					"from": "15550001111",
					"id": "wamid.abc123",
					"type": "text",
					"timestamp": "1724932800",
					"text": {"body": "hello there"}
				}]
			}
		}]
	}]
}`

const waAdReferralPayload = `{
	"entry": [{
		"changes": [{
			"value": {
				"messages": [{
					"from": "15550001111",
					"id": "wamid.ad1",
					"type": "text",
					"text": {"body": "saw your ad"},
					"referral": {"source_type": "ad", "source_id": "ad-789"}
				}]
			}
		}]
	}]
}`

const waStatusPayload = `{
	"entry": [{
		"changes": [{
			"value": {
				"statuses": [{"id": "wamid.abc123", "status": "delivered"}]
			}
		}]
	}]
}`

func TestParseIncomingTextMessage(t *testing.T) {
	a := NewWhatsAppAdapter(WhatsAppConfig{})

	raw, err := a.ParseIncoming([]byte(waTextPayload))
	require.NoError(t, err)
	require.NotNil(t, raw)

	assert.Equal(t, "whatsapp", raw.Channel)
	assert.Equal(t, "15550001111", raw.ChannelUserID)
	assert.Equal(t, "hello there", raw.Content)
	assert.Equal(t, "wamid.abc123", raw.MessageID)
	assert.Equal(t, "Ada Lovelace", raw.SenderName)
	assert.Empty(t, raw.Metadata)
}

func TestParseIncomingAdReferral(t *testing.T) {
	a := NewWhatsAppAdapter(WhatsAppConfig{})

	raw, err := a.ParseIncoming([]byte(waAdReferralPayload))
	require.NoError(t, err)
	require.NotNil(t, raw)

	assert.Equal(t, string(model.EntryPointCTWAAd), raw.Metadata[MetadataEntryPoint])
	assert.Equal(t, "ad-789", raw.Metadata["ad_id"])
}

func TestParseIncomingStatusUpdateIsIgnorable(t *testing.T) {
	a := NewWhatsAppAdapter(WhatsAppConfig{})

	raw, err := a.ParseIncoming([]byte(waStatusPayload))
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestParseIncomingMalformed(t *testing.T) {
	a := NewWhatsAppAdapter(WhatsAppConfig{})

	_, err := a.ParseIncoming([]byte("{not json"))
	assert.Error(t, err)
}

func TestVerifySignature(t *testing.T) {
	a := NewWhatsAppAdapter(WhatsAppConfig{AppSecret: "top-secret"})
	body := []byte(`{"entry":[]}`)

	mac := hmac.New(sha256.New, []byte("top-secret"))
	mac.Write(body)
	valid := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	assert.True(t, a.VerifySignature(valid, body))
	assert.False(t, a.VerifySignature("sha256=deadbeef", body))
	assert.False(t, a.VerifySignature("", body))

	// No app secret configured skips verification.
	open := NewWhatsAppAdapter(WhatsAppConfig{})
	assert.True(t, open.VerifySignature("", body))
}

func TestSendPostsToCloudAPI(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &gotBody)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"messages":[{"id":"wamid.out1"}]}`))
	}))
	defer srv.Close()

	a := NewWhatsAppAdapter(WhatsAppConfig{
		AccessToken:   "token-1",
		PhoneNumberID: "phone-1",
		APIBaseURL:    srv.URL,
	})

	err := a.Send(context.Background(), "15550001111", &model.Message{Content: "hi back"})
	require.NoError(t, err)

	assert.Equal(t, "/phone-1/messages", gotPath)
	assert.Equal(t, "Bearer token-1", gotAuth)
	assert.Equal(t, "whatsapp", gotBody["messaging_product"])
	assert.Equal(t, "15550001111", gotBody["to"])
	assert.Equal(t, map[string]interface{}{"body": "hi back"}, gotBody["text"])
}

func TestSendErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	a := NewWhatsAppAdapter(WhatsAppConfig{APIBaseURL: srv.URL, PhoneNumberID: "p"})
	err := a.Send(context.Background(), "1", &model.Message{Content: "x"})
	assert.Error(t, err)
}
