package whatsapp

import (
	"bytes"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"
	"strings"

	"github.com/nfnt/resize"
	"github.com/rs/zerolog/log"
)

const maxImageEdge = 1600

// EnsureImageCompat re-encodes images the Cloud API may reject:
// anything larger than maxImageEdge on its long side is downscaled and
// everything decodable comes back as JPEG. Bytes we cannot decode are
// passed through untouched.
func EnsureImageCompat(data []byte, mimeType string) ([]byte, string) {
	if !strings.HasPrefix(mimeType, "image/") {
		return data, mimeType
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		log.Debug().Err(err).Str("mime", mimeType).Msg("Image not decodable, passing through")
		return data, mimeType
	}
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w > maxImageEdge || h > maxImageEdge {
		if w >= h {
			img = resize.Resize(maxImageEdge, 0, img, resize.Lanczos3)
		} else {
			img = resize.Resize(0, maxImageEdge, img, resize.Lanczos3)
		}
	} else if format == "jpeg" && mimeType == "image/jpeg" {
		// Already a reasonably sized JPEG, keep the original bytes.
		return data, mimeType
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 88}); err != nil {
		return data, mimeType
	}
	return buf.Bytes(), "image/jpeg"
}

func extForMime(mime string) string {
	switch {
	case strings.Contains(mime, "jpeg"), strings.Contains(mime, "jpg"):
		return ".jpg"
	case strings.Contains(mime, "png"):
		return ".png"
	case strings.Contains(mime, "ogg"):
		return ".ogg"
	case strings.Contains(mime, "mpeg"), strings.Contains(mime, "mp3"):
		return ".mp3"
	case strings.Contains(mime, "wav"):
		return ".wav"
	case strings.Contains(mime, "pdf"):
		return ".pdf"
	default:
		return ".bin"
	}
}

func bytesReader(data []byte) io.Reader {
	return bytes.NewReader(data)
}
