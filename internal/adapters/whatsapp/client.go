package whatsapp

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	cache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"verabot/config"
	"verabot/internal/models"
)

// Client talks to the WhatsApp Cloud API for one phone number id.
// Uploaded media ids are cached so a product image sent to many
// customers is uploaded once.
type Client struct {
	http          *resty.Client
	baseURL       string
	token         string
	phoneNumberID string
	mediaCache    *cache.Cache
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		http:          resty.New().SetTimeout(30 * time.Second),
		baseURL:       cfg.WAAPIBaseURL,
		token:         cfg.WAAccessToken,
		phoneNumberID: cfg.WAPhoneNumberID,
		// Cloud API media ids stay valid for around 30 days; 20h keeps
		// us far inside that.
		mediaCache: cache.New(20*time.Hour, time.Hour),
	}
}

// Enabled reports whether credentials are configured.
func (c *Client) Enabled() bool {
	return c.token != "" && c.phoneNumberID != ""
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

func (c *Client) messagesURL() string {
	return fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneNumberID)
}

func (c *Client) send(ctx context.Context, payload map[string]interface{}) models.SendResult {
	if !c.Enabled() {
		return models.SendResult{Error: "whatsapp credentials not configured"}
	}
	var parsed sendResponse
	resp, err := c.http.R().SetContext(ctx).
		SetAuthToken(c.token).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		SetResult(&parsed).
		Post(c.messagesURL())
	if err != nil {
		return models.SendResult{Error: err.Error()}
	}
	if resp.IsError() {
		body := resp.String()
		if len(body) > 900 {
			body = body[:900]
		}
		return models.SendResult{Status: resp.StatusCode(), Error: body}
	}
	out := models.SendResult{Sent: true, Status: resp.StatusCode()}
	if len(parsed.Messages) > 0 {
		out.WAMessageID = parsed.Messages[0].ID
	}
	return out
}

// SendText sends a plain text message.
func (c *Client) SendText(ctx context.Context, phone, text string) models.SendResult {
	return c.send(ctx, map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                phone,
		"type":              "text",
		"text":              map[string]interface{}{"body": text, "preview_url": false},
	})
}

// SendMediaID sends previously uploaded media by id. mediaType is one
// of image, audio, document.
func (c *Client) SendMediaID(ctx context.Context, phone, mediaType, mediaID, caption string) models.SendResult {
	media := map[string]interface{}{"id": mediaID}
	if caption != "" && mediaType != "audio" {
		media["caption"] = caption
	}
	return c.send(ctx, map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                phone,
		"type":              mediaType,
		mediaType:           media,
	})
}

// SendInteractiveCTAURL sends the card layout: header image, body text
// and one URL button.
func (c *Client) SendInteractiveCTAURL(ctx context.Context, phone, bodyText, buttonText, url, headerImageMediaID string) models.SendResult {
	interactive := map[string]interface{}{
		"type": "cta_url",
		"body": map[string]string{"text": bodyText},
		"action": map[string]interface{}{
			"name": "cta_url",
			"parameters": map[string]string{
				"display_text": buttonText,
				"url":          url,
			},
		},
	}
	if headerImageMediaID != "" {
		interactive["header"] = map[string]interface{}{
			"type":  "image",
			"image": map[string]string{"id": headerImageMediaID},
		}
	}
	return c.send(ctx, map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                phone,
		"type":              "interactive",
		"interactive":       interactive,
	})
}

// UploadMedia pushes raw bytes to the media endpoint and returns the
// media id.
func (c *Client) UploadMedia(ctx context.Context, data []byte, mimeType string) (string, error) {
	if !c.Enabled() {
		return "", fmt.Errorf("whatsapp credentials not configured")
	}
	var parsed struct {
		ID string `json:"id"`
	}
	resp, err := c.http.R().SetContext(ctx).
		SetAuthToken(c.token).
		SetFileReader("file", "media"+extForMime(mimeType), bytesReader(data)).
		SetMultipartFormData(map[string]string{
			"messaging_product": "whatsapp",
			"type":              mimeType,
		}).
		SetResult(&parsed).
		Post(fmt.Sprintf("%s/%s/media", c.baseURL, c.phoneNumberID))
	if err != nil {
		return "", fmt.Errorf("media upload: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("media upload %d: %s", resp.StatusCode(), resp.String())
	}
	if parsed.ID == "" {
		return "", fmt.Errorf("media upload: no media id in response")
	}
	return parsed.ID, nil
}

// UploadMediaCached uploads through the media-id cache: the same cache
// key (typically the source image URL) reuses the previous upload.
func (c *Client) UploadMediaCached(ctx context.Context, key string, data []byte, mimeType string) (string, error) {
	if key != "" {
		if id, found := c.mediaCache.Get(key); found {
			return id.(string), nil
		}
	}
	id, err := c.UploadMedia(ctx, data, mimeType)
	if err != nil {
		return "", err
	}
	if key != "" {
		c.mediaCache.Set(key, id, cache.DefaultExpiration)
	}
	return id, nil
}

// DownloadMedia resolves a media id to its URL and fetches the bytes.
func (c *Client) DownloadMedia(ctx context.Context, mediaID string) ([]byte, string, error) {
	if !c.Enabled() {
		return nil, "", fmt.Errorf("whatsapp credentials not configured")
	}
	var meta struct {
		URL      string `json:"url"`
		MimeType string `json:"mime_type"`
	}
	resp, err := c.http.R().SetContext(ctx).
		SetAuthToken(c.token).
		SetResult(&meta).
		Get(fmt.Sprintf("%s/%s", c.baseURL, mediaID))
	if err != nil {
		return nil, "", fmt.Errorf("media lookup: %w", err)
	}
	if resp.IsError() || meta.URL == "" {
		return nil, "", fmt.Errorf("media lookup %d: %s", resp.StatusCode(), resp.String())
	}

	bin, err := c.http.R().SetContext(ctx).
		SetAuthToken(c.token).
		Get(meta.URL)
	if err != nil {
		return nil, "", fmt.Errorf("media fetch: %w", err)
	}
	if bin.IsError() {
		return nil, "", fmt.Errorf("media fetch %d", bin.StatusCode())
	}
	mime := meta.MimeType
	if ct := bin.Header().Get("Content-Type"); ct != "" {
		mime = ct
	}
	log.Debug().Str("media_id", mediaID).Int("bytes", len(bin.Body())).Msg("Media downloaded")
	return bin.Body(), mime, nil
}
