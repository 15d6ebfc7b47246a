// api/schemas/v1_test.go
package schemas

import (
	"bytes"
	"strings"
	"testing"
	"time"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeV1Request(t *testing.T) {
	t.Run("should decode a full request payload", func(t *testing.T) {
		body := `{
			"cmd": "request.get",
			"url": "https://example.com",
			"session": "abc",
			"session_ttl_minutes": 10,
			"maxTimeout": 45000,
			"returnOnlyCookies": true,
			"cookies": [{"name": "a", "value": "1", "domain": ".example.com"}],
			"proxy": {"host": "127.0.0.1", "port": 8080, "username": "u", "password": "p"}
		}`

		req, err := DecodeV1Request(strings.NewReader(body))
		require.NoError(t, err)

		assert.Equal(t, CmdRequestGet, req.Cmd)
		assert.Equal(t, "https://example.com", req.URL)
		assert.Equal(t, "abc", req.Session)
		assert.Equal(t, 10*time.Minute, req.SessionTTL())
		assert.Equal(t, 45000, req.MaxTimeout)
		assert.True(t, req.ReturnOnlyCookies)
		require.Len(t, req.Cookies, 1)
		assert.Equal(t, "a", req.Cookies[0].Name)
		require.NotNil(t, req.Proxy)
		assert.Equal(t, "127.0.0.1:8080", req.Proxy.Address())
	})

	t.Run("should fail on malformed JSON", func(t *testing.T) {
		_, err := DecodeV1Request(strings.NewReader(`{"cmd": `))
		require.Error(t, err)
	})

	t.Run("should surface deprecated fields", func(t *testing.T) {
		body := `{
			"cmd": "request.get",
			"url": "https://example.com",
			"headers": {"X-Test": "1"},
			"userAgent": "Mozilla/5.0",
			"returnRawHtml": false,
			"download": true
		}`

		req, err := DecodeV1Request(strings.NewReader(body))
		require.NoError(t, err)
		assert.ElementsMatch(t,
			[]string{"headers", "userAgent", "returnRawHtml", "download"},
			req.DeprecatedFields(),
		)
	})

	t.Run("should report no deprecated fields when absent", func(t *testing.T) {
		req, err := DecodeV1Request(strings.NewReader(`{"cmd": "sessions.list"}`))
		require.NoError(t, err)
		assert.Empty(t, req.DeprecatedFields())
	})
}

func TestEncodeV1Response(t *testing.T) {
	t.Run("should omit solution and session fields when unset", func(t *testing.T) {
		var buf bytes.Buffer
		err := EncodeV1Response(&buf, &V1Response{
			Status:  StatusOK,
			Message: "",
			Version: "3.4.0",
		})
		require.NoError(t, err)

		out := buf.String()
		assert.Contains(t, out, `"status":"ok"`)
		assert.NotContains(t, out, `"solution"`)
		assert.NotContains(t, out, `"session"`)
	})

	t.Run("should keep an empty sessions array on the wire", func(t *testing.T) {
		var buf bytes.Buffer
		err := EncodeV1Response(&buf, &V1Response{
			Status:   StatusOK,
			Message:  "",
			Sessions: []string{},
			Version:  "3.4.0",
		})
		require.NoError(t, err)
		assert.Contains(t, buf.String(), `"sessions":[]`)
	})

	t.Run("should omit response body for cookie-only solutions", func(t *testing.T) {
		var buf bytes.Buffer
		err := EncodeV1Response(&buf, &V1Response{
			Status: StatusOK,
			Solution: &Solution{
				URL:       "https://example.com",
				Status:    200,
				Cookies:   []Cookie{},
				UserAgent: "Mozilla/5.0",
			},
		})
		require.NoError(t, err)

		out := buf.String()
		assert.NotContains(t, out, `"response"`)
		assert.NotContains(t, out, `"headers"`)
		assert.Contains(t, out, `"status":200`)
	})

	t.Run("should include body and empty headers for full solutions", func(t *testing.T) {
		var buf bytes.Buffer
		err := EncodeV1Response(&buf, &V1Response{
			Status: StatusOK,
			Solution: &Solution{
				URL:       "https://example.com",
				Status:    200,
				Headers:   map[string]string{},
				Response:  "<html></html>",
				UserAgent: "Mozilla/5.0",
			},
		})
		require.NoError(t, err)

		out := buf.String()
		assert.Contains(t, out, `"response":"<html></html>"`)
		assert.Contains(t, out, `"headers":{}`)
	})
}

// FuzzDecodeV1Request makes sure arbitrary bodies never panic the decoder.
func FuzzDecodeV1Request(f *testing.F) {
	f.Add([]byte(`{"cmd":"request.get","url":"https://example.com"}`))
	f.Add([]byte(`{"cmd":"sessions.create"}`))
	f.Add([]byte(`{`))

	f.Fuzz(func(t *testing.T, data []byte) {
		consumer := fuzz.NewConsumer(data)
		raw, err := consumer.GetBytes()
		if err != nil {
			raw = data
		}
		// The decoder may reject the input, it must never panic.
		req, err := DecodeV1Request(bytes.NewReader(raw))
		if err == nil && req != nil {
			_ = req.DeprecatedFields()
			_ = req.SessionTTL()
		}
	})
}
