package mediastore

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"verabot/config"
)

// Archive stores customer media (voice notes, product photos,
// receipts) in an S3-compatible bucket so staff can review them later.
// With no bucket configured every call is a no-op.
type Archive struct {
	client    *s3.Client
	bucket    string
	publicURL string
	region    string
	endpoint  string
	pathStyle bool
}

func NewArchive(cfg *config.Config) *Archive {
	a := &Archive{
		bucket:    cfg.S3Bucket,
		publicURL: cfg.S3PublicURL,
		region:    cfg.S3Region,
		endpoint:  cfg.S3Endpoint,
		pathStyle: cfg.S3PathStyle,
	}
	if cfg.S3Bucket == "" || cfg.S3AccessKey == "" || cfg.S3SecretKey == "" {
		log.Info().Msg("S3 archive not configured, media archiving disabled")
		return a
	}

	awsCfg := aws.Config{
		Region:      cfg.S3Region,
		Credentials: credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
	}
	if cfg.S3Endpoint != "" {
		endpoint := cfg.S3Endpoint
		awsCfg.EndpointResolverWithOptions = aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				if service == s3.ServiceID {
					return aws.Endpoint{URL: endpoint, HostnameImmutable: cfg.S3PathStyle}, nil
				}
				return aws.Endpoint{}, &aws.EndpointNotFoundError{}
			})
	}
	a.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.S3PathStyle
	})
	log.Info().Str("bucket", cfg.S3Bucket).Str("region", cfg.S3Region).Msg("S3 archive initialized")
	return a
}

// Enabled reports whether archiving is configured.
func (a *Archive) Enabled() bool {
	return a.client != nil
}

// Key builds the object key for one message's media:
// {phone}/{direction}/{yyyy-mm}/{id}{ext}
func (a *Archive) Key(phone, direction string, messageID int64, mimeType string) string {
	return fmt.Sprintf("%s/%s/%s/%d%s",
		phone, direction, time.Now().UTC().Format("2006-01"), messageID, extForMime(mimeType))
}

// Store uploads one media blob and returns its key. Disabled archives
// return an empty key and no error.
func (a *Archive) Store(ctx context.Context, phone, direction string, messageID int64, data []byte, mimeType string) (string, error) {
	if !a.Enabled() {
		return "", nil
	}
	contentType := mimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := a.Key(phone, direction, messageID, mimeType)
	input := &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	}
	if strings.HasPrefix(mimeType, "image/") || mimeType == "application/pdf" {
		input.ContentDisposition = aws.String("inline")
	}
	if _, err := a.client.PutObject(ctx, input); err != nil {
		log.Error().Err(err).Str("key", key).Str("bucket", a.bucket).Int("size", len(data)).
			Msg("Failed to upload media to S3")
		return "", fmt.Errorf("s3 upload: %w", err)
	}
	log.Debug().Str("key", key).Int("size", len(data)).Msg("Media archived to S3")
	return key, nil
}

// PublicURL builds a browse URL for an archived object.
func (a *Archive) PublicURL(key string) string {
	if key == "" {
		return ""
	}
	if a.publicURL != "" {
		return fmt.Sprintf("%s/%s/%s", strings.TrimRight(a.publicURL, "/"), a.bucket, key)
	}
	if a.endpoint != "" {
		if a.pathStyle {
			return fmt.Sprintf("%s/%s/%s", strings.TrimRight(a.endpoint, "/"), a.bucket, key)
		}
		clean := strings.TrimPrefix(a.endpoint, "https://")
		clean = strings.TrimPrefix(clean, "http://")
		return fmt.Sprintf("https://%s.%s/%s", a.bucket, clean, key)
	}
	if a.pathStyle {
		return fmt.Sprintf("https://s3.%s.amazonaws.com/%s/%s", a.region, a.bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", a.bucket, a.region, key)
}

func extForMime(mime string) string {
	switch {
	case strings.Contains(mime, "jpeg"), strings.Contains(mime, "jpg"):
		return ".jpg"
	case strings.Contains(mime, "png"):
		return ".png"
	case strings.Contains(mime, "webp"):
		return ".webp"
	case strings.Contains(mime, "ogg"), strings.Contains(mime, "opus"):
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
