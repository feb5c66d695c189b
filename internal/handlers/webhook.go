package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/vincent-petithory/dataurl"

	"verabot/internal/models"
	"verabot/internal/store"
)

// Cloud API webhook envelope, trimmed to the fields the bot reads.
type webhookEnvelope struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Contacts []struct {
					WAID    string `json:"wa_id"`
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
				Messages []webhookMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type webhookMessage struct {
	From string `json:"from"`
	ID   string `json:"id"`
	Type string `json:"type"`
	Text *struct {
		Body string `json:"body"`
	} `json:"text"`
	Image    *webhookMedia `json:"image"`
	Audio    *webhookMedia `json:"audio"`
	Voice    *webhookMedia `json:"voice"`
	Document *webhookMedia `json:"document"`
}

type webhookMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption"`
	Filename string `json:"filename"`
	// Data carries inline media as a data URL; testing bridges use it
	// instead of a downloadable media id.
	Data string `json:"data,omitempty"`
}

// VerifyWebhook answers Meta's subscription handshake.
func (s *Server) VerifyWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("hub.mode") == "subscribe" && q.Get("hub.verify_token") == s.cfg.WAVerifyToken {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(q.Get("hub.challenge")))
			return
		}
		log.Warn().Str("mode", q.Get("hub.mode")).Msg("Webhook verification rejected")
		s.respondError(w, http.StatusForbidden, "verification failed")
	}
}

// ReceiveWebhook accepts one Cloud API delivery, hands the contained
// messages to the engine asynchronously and acknowledges right away so
// Meta never retries on slow AI calls.
func (s *Server) ReceiveWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var env webhookEnvelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			log.Warn().Err(err).Msg("Unparseable webhook payload")
			s.respondError(w, http.StatusBadRequest, "invalid payload")
			return
		}

		for _, entry := range env.Entry {
			for _, change := range entry.Changes {
				names := make(map[string]string, len(change.Value.Contacts))
				for _, c := range change.Value.Contacts {
					names[c.WAID] = c.Profile.Name
				}
				for _, msg := range change.Value.Messages {
					in := normalizeMessage(msg)
					if in.Phone == "" {
						continue
					}
					if name := names[in.Phone]; name != "" {
						if err := s.convs.MergeFields(in.Phone, store.Fields{FirstName: name}, nil, ""); err != nil {
							log.Error().Err(err).Str("phone", in.Phone).Msg("Could not store profile name")
						}
					}
					go s.engine.HandleInbound(context.Background(), in)
				}
			}
		}
		s.respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

// normalizeMessage flattens one Cloud API message into the engine's
// channel-independent shape.
func normalizeMessage(msg webhookMessage) models.InboundMessage {
	in := models.InboundMessage{
		Phone:   msg.From,
		MsgType: msg.Type,
	}
	if msg.Type == "voice" {
		in.MsgType = "audio"
	}
	if msg.Text != nil {
		in.Text = msg.Text.Body
	}

	var media *webhookMedia
	switch {
	case msg.Image != nil:
		media = msg.Image
	case msg.Voice != nil:
		media = msg.Voice
	case msg.Audio != nil:
		media = msg.Audio
	case msg.Document != nil:
		media = msg.Document
	}
	if media == nil {
		return in
	}

	in.MediaID = media.ID
	in.MimeType = media.MimeType
	in.FileName = media.Filename
	if media.Caption != "" {
		in.Text = media.Caption
	}
	if strings.HasPrefix(media.Data, "data:") {
		decoded, err := dataurl.DecodeString(media.Data)
		if err != nil {
			log.Warn().Err(err).Msg("Invalid inline media data URL")
		} else {
			in.MediaBytes = decoded.Data
			if ct := decoded.MediaType.ContentType(); ct != "" {
				in.MimeType = ct
			}
		}
	}
	return in
}
