package whatsapp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verabot/config"
)

func testClient(baseURL string) *Client {
	return NewClient(&config.Config{
		WAAPIBaseURL:    baseURL,
		WAAccessToken:   "token-123",
		WAPhoneNumberID: "555000",
	})
}

func TestSendTextSuccess(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.ABC"}]}`))
	}))
	defer srv.Close()

	res := testClient(srv.URL).SendText(context.Background(), "573001112233", "hola")

	require.True(t, res.Sent)
	assert.Equal(t, "wamid.ABC", res.WAMessageID)
	assert.Equal(t, "/555000/messages", gotPath)
	assert.Equal(t, "Bearer token-123", gotAuth)
	assert.Equal(t, "text", gotBody["type"])
	text := gotBody["text"].(map[string]interface{})
	assert.Equal(t, "hola", text["body"])
}

func TestSendTextAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"error":{"message":"bad recipient"}}`))
	}))
	defer srv.Close()

	res := testClient(srv.URL).SendText(context.Background(), "x", "hola")

	assert.False(t, res.Sent)
	assert.Equal(t, 400, res.Status)
	assert.Contains(t, res.Error, "bad recipient")
}

func TestSendTextDisabled(t *testing.T) {
	c := NewClient(&config.Config{WAAPIBaseURL: "http://unused"})
	res := c.SendText(context.Background(), "x", "hola")
	assert.False(t, res.Sent)
	assert.Contains(t, res.Error, "not configured")
}

func TestSendInteractiveCTAURL(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.CTA"}]}`))
	}))
	defer srv.Close()

	res := testClient(srv.URL).SendInteractiveCTAURL(context.Background(),
		"573001112233", "One Million 100ml", "Ver producto", "https://shop.example/p/9", "MEDIA9")

	require.True(t, res.Sent)
	inter := gotBody["interactive"].(map[string]interface{})
	assert.Equal(t, "cta_url", inter["type"])
	header := inter["header"].(map[string]interface{})
	assert.Equal(t, "image", header["type"])
	action := inter["action"].(map[string]interface{})
	params := action["parameters"].(map[string]interface{})
	assert.Equal(t, "Ver producto", params["display_text"])
	assert.Equal(t, "https://shop.example/p/9", params["url"])
}

func TestSendInteractiveCTAURLWithoutHeader(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.CTA"}]}`))
	}))
	defer srv.Close()

	res := testClient(srv.URL).SendInteractiveCTAURL(context.Background(),
		"573001112233", "cuerpo", "Ver", "https://shop.example", "")

	require.True(t, res.Sent)
	inter := gotBody["interactive"].(map[string]interface{})
	_, hasHeader := inter["header"]
	assert.False(t, hasHeader, "no header block without a media id")
}

func TestSendMediaIDAudioHasNoCaption(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.A"}]}`))
	}))
	defer srv.Close()

	res := testClient(srv.URL).SendMediaID(context.Background(), "573001112233", "audio", "M1", "ignored")

	require.True(t, res.Sent)
	audio := gotBody["audio"].(map[string]interface{})
	assert.Equal(t, "M1", audio["id"])
	_, hasCaption := audio["caption"]
	assert.False(t, hasCaption)
}

func TestUploadMediaCachedReusesID(t *testing.T) {
	uploads := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uploads++
		assert.Equal(t, "/555000/media", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"MEDIA-42"}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	id1, err := c.UploadMediaCached(context.Background(), "https://img/a.jpg", []byte("x"), "image/jpeg")
	require.NoError(t, err)
	id2, err := c.UploadMediaCached(context.Background(), "https://img/a.jpg", []byte("x"), "image/jpeg")
	require.NoError(t, err)

	assert.Equal(t, "MEDIA-42", id1)
	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, uploads, "second upload should hit the cache")
}

func TestDownloadMedia(t *testing.T) {
	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/MEDIA-7":
			w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"url":"` + srvURL + `/bin/7","mime_type":"image/jpeg"}`))
		case "/bin/7":
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write([]byte("jpegbytes"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()
	srvURL = srv.URL

	data, mime, err := testClient(srv.URL).DownloadMedia(context.Background(), "MEDIA-7")

	require.NoError(t, err)
	assert.Equal(t, "jpegbytes", string(data))
	assert.Equal(t, "image/jpeg", mime)
}
