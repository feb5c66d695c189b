package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"verabot/config"
	"verabot/internal/adapters/whatsapp"
	"verabot/internal/adapters/woocommerce"
	"verabot/internal/ai"
	"verabot/internal/breaker"
	"verabot/internal/catalog"
	"verabot/internal/models"
	"verabot/internal/store"
)

// MessageSender is the outbound surface of the WhatsApp client. The
// engine and dispatcher only see this interface so tests can swap in a
// recorder.
type MessageSender interface {
	SendText(ctx context.Context, phone, text string) models.SendResult
	SendMediaID(ctx context.Context, phone, mediaType, mediaID, caption string) models.SendResult
	SendInteractiveCTAURL(ctx context.Context, phone, bodyText, buttonText, url, headerImageMediaID string) models.SendResult
	UploadMediaCached(ctx context.Context, key string, data []byte, mimeType string) (string, error)
	DownloadMedia(ctx context.Context, mediaID string) ([]byte, string, error)
}

// ProductFinder is the live store lookup surface.
type ProductFinder interface {
	Enabled() bool
	FetchProduct(ctx context.Context, id int64) (models.Product, error)
	SearchProducts(ctx context.Context, query string, perPage int) ([]models.Product, error)
}

// Voice synthesizes a voice note from reply text.
type Voice interface {
	Synthesize(ctx context.Context, text string) (ai.TTSAudio, error)
}

// Dispatcher paces and logs everything the bot sends: chunked text,
// voice notes and product cards. Every outbound message gets a queued
// log row first and its provider result after.
type Dispatcher struct {
	sender MessageSender
	msgs   *store.Messages
	convs  *store.Conversations
	finder ProductFinder
	cache  *catalog.Cache
	brk    *breaker.Breaker
	voice  Voice

	chunkChars  int
	replyDelay  time.Duration
	typingDelay time.Duration
	voiceFirst  bool

	sleep    func(time.Duration)
	fetchURL func(ctx context.Context, url string) ([]byte, string, error)
}

func NewDispatcher(cfg *config.Config, sender MessageSender, msgs *store.Messages, convs *store.Conversations,
	finder ProductFinder, cache *catalog.Cache, brk *breaker.Breaker, voice Voice) *Dispatcher {
	httpc := resty.New().SetTimeout(25 * time.Second)
	return &Dispatcher{
		sender:      sender,
		msgs:        msgs,
		convs:       convs,
		finder:      finder,
		cache:       cache,
		brk:         brk,
		voice:       voice,
		chunkChars:  cfg.ReplyChunkChars,
		replyDelay:  time.Duration(cfg.ReplyDelayMs) * time.Millisecond,
		typingDelay: time.Duration(cfg.TypingDelayMs) * time.Millisecond,
		voiceFirst:  cfg.VoiceEnabled && cfg.VoicePreferVoice,
		sleep:       time.Sleep,
		fetchURL: func(ctx context.Context, url string) ([]byte, string, error) {
			resp, err := httpc.R().SetContext(ctx).Get(url)
			if err != nil {
				return nil, "", err
			}
			if resp.IsError() {
				return nil, "", fmt.Errorf("fetch %s: status %d", url, resp.StatusCode())
			}
			return resp.Body(), resp.Header().Get("Content-Type"), nil
		},
	}
}

var sentenceRe = regexp.MustCompile(`[^.!?]+[.!?]*\s*`)

// splitLongText cuts reply text into chunks of at most max runes,
// preferring paragraph breaks, then sentence breaks, then a hard cut.
func splitLongText(text string, max int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if utf8.RuneCountInString(text) <= max {
		return []string{text}
	}

	var pieces []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if utf8.RuneCountInString(para) <= max {
			pieces = append(pieces, para)
			continue
		}
		for _, sent := range sentenceRe.FindAllString(para, -1) {
			sent = strings.TrimSpace(sent)
			if sent == "" {
				continue
			}
			if utf8.RuneCountInString(sent) <= max {
				pieces = append(pieces, sent)
				continue
			}
			r := []rune(sent)
			for len(r) > 0 {
				n := max
				if n > len(r) {
					n = len(r)
				}
				pieces = append(pieces, strings.TrimSpace(string(r[:n])))
				r = r[n:]
			}
		}
	}

	// Greedy repack so short sentences share a bubble.
	var chunks []string
	cur := ""
	for _, p := range pieces {
		switch {
		case cur == "":
			cur = p
		case utf8.RuneCountInString(cur)+1+utf8.RuneCountInString(p) <= max:
			cur += "\n" + p
		default:
			chunks = append(chunks, cur)
			cur = p
		}
	}
	if cur != "" {
		chunks = append(chunks, cur)
	}
	return chunks
}

// SendTextChunks sends text as paced message bubbles.
func (d *Dispatcher) SendTextChunks(ctx context.Context, phone, text string) {
	for i, chunk := range splitLongText(text, d.chunkChars) {
		if i > 0 {
			d.sleep(d.replyDelay)
		}
		d.sleep(d.typingDelay)
		d.sendTextLogged(ctx, phone, chunk)
	}
}

// SendReply sends one reply, as a voice note when voice-first is on
// and synthesis works, otherwise as text chunks.
func (d *Dispatcher) SendReply(ctx context.Context, phone, text string) {
	if d.voiceFirst && d.voice != nil {
		if d.sendVoiceNote(ctx, phone, text) {
			return
		}
		log.Debug().Str("phone", phone).Msg("Voice note failed, falling back to text")
	}
	d.SendTextChunks(ctx, phone, text)
}

func (d *Dispatcher) sendTextLogged(ctx context.Context, phone, text string) models.SendResult {
	id, err := d.msgs.Insert(&models.Message{
		Phone:     phone,
		Direction: models.DirectionOut,
		MsgType:   "text",
		Text:      text,
	})
	if err != nil {
		log.Error().Err(err).Str("phone", phone).Msg("Could not log outbound message")
	}
	res := d.sender.SendText(ctx, phone, text)
	if id > 0 {
		_ = d.msgs.SetSendResult(id, res)
	}
	if !res.Sent {
		log.Warn().Str("phone", phone).Str("error", res.Error).Msg("Text send failed")
	}
	return res
}

func (d *Dispatcher) sendVoiceNote(ctx context.Context, phone, text string) bool {
	audio, err := d.voice.Synthesize(ctx, text)
	if err != nil {
		log.Warn().Err(err).Str("phone", phone).Msg("Voice synthesis failed")
		return false
	}
	mediaID, err := d.sender.UploadMediaCached(ctx, "", audio.Data, audio.MimeType)
	if err != nil {
		log.Warn().Err(err).Str("phone", phone).Msg("Voice note upload failed")
		return false
	}
	id, _ := d.msgs.Insert(&models.Message{
		Phone:     phone,
		Direction: models.DirectionOut,
		MsgType:   "audio",
		Text:      text,
		MediaID:   mediaID,
		MimeType:  audio.MimeType,
	})
	res := d.sender.SendMediaID(ctx, phone, "audio", mediaID, "")
	if id > 0 {
		_ = d.msgs.SetSendResult(id, res)
	}
	return res.Sent
}

// FreshProduct resolves a product by id, preferring the live store.
// With the breaker open, or on a live failure, it falls back to the
// local cache.
func (d *Dispatcher) FreshProduct(ctx context.Context, id int64) (models.Product, error) {
	if d.finder == nil || !d.finder.Enabled() || d.brk.IsOpen() {
		return d.cache.GetByID(id)
	}
	p, err := d.finder.FetchProduct(ctx, id)
	if err != nil {
		d.brk.RecordFailure()
		log.Warn().Err(err).Int64("product", id).Msg("Live product fetch failed, trying cache")
		return d.cache.GetByID(id)
	}
	d.brk.RecordSuccess()
	_ = d.cache.Upsert(p, nil)
	return p, nil
}

// SendProductCard sends one product as a card: header image, caption
// body and a URL button. When the card cannot be built it degrades to
// image-plus-caption, then to plain text. The product becomes the
// conversation's last shown product either way.
func (d *Dispatcher) SendProductCard(ctx context.Context, phone string, p models.Product, useRealImage bool) models.SendResult {
	caption := woocommerce.BuildCaption(p, "")
	imageURL := p.FeaturedImage
	button := "Ver producto"
	if useRealImage && p.RealImage != "" {
		imageURL = p.RealImage
		button = "Ver foto real"
	}
	linkURL := p.Permalink
	if linkURL == "" {
		linkURL = imageURL
	}

	mediaID := ""
	if imageURL != "" {
		if data, mime, err := d.fetchURL(ctx, imageURL); err == nil {
			data, mime = whatsapp.EnsureImageCompat(data, mime)
			if id, err := d.sender.UploadMediaCached(ctx, imageURL, data, mime); err == nil {
				mediaID = id
			} else {
				log.Warn().Err(err).Int64("product", p.ID).Msg("Product image upload failed")
			}
		} else {
			log.Warn().Err(err).Str("url", imageURL).Msg("Product image download failed")
		}
	}

	logID, _ := d.msgs.Insert(&models.Message{
		Phone:         phone,
		Direction:     models.DirectionOut,
		MsgType:       "product",
		Text:          caption,
		MediaURL:      imageURL,
		MediaID:       mediaID,
		FeaturedImage: p.FeaturedImage,
		RealImage:     p.RealImage,
		Permalink:     p.Permalink,
	})

	var res models.SendResult
	switch {
	case mediaID != "" && linkURL != "":
		res = d.sender.SendInteractiveCTAURL(ctx, phone, caption, button, linkURL, mediaID)
		if !res.Sent {
			res = d.sender.SendMediaID(ctx, phone, "image", mediaID, caption)
		}
	case mediaID != "":
		res = d.sender.SendMediaID(ctx, phone, "image", mediaID, caption)
	default:
		res = d.sender.SendText(ctx, phone, caption)
	}
	if logID > 0 {
		_ = d.msgs.SetSendResult(logID, res)
	}

	if err := d.convs.SetLastProduct(phone, p.ID, p.FeaturedImage, p.RealImage, p.Permalink); err != nil {
		log.Error().Err(err).Str("phone", phone).Msg("Could not remember last product")
	}
	return res
}
