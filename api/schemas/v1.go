// api/schemas/v1.go
package schemas

import (
	"fmt"
	"io"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// json is the wire codec for the v1 protocol. The compat config keeps the
// output byte-for-byte interchangeable with encoding/json while staying fast
// enough to serialize multi-megabyte page bodies.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Response status values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Commands accepted by the /v1 endpoint.
const (
	CmdSessionsCreate  = "sessions.create"
	CmdSessionsList    = "sessions.list"
	CmdSessionsDestroy = "sessions.destroy"
	CmdRequestGet      = "request.get"
	CmdRequestPost     = "request.post"
)

// Proxy describes an upstream proxy a browser instance should tunnel through.
// Credentials are optional; when present the browser cannot consume them
// directly and they are bridged through a local relay.
type Proxy struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// Address returns the host:port form used for --proxy-server style flags.
func (p *Proxy) Address() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// Cookie is the wire representation of a browser cookie, matching the shape
// the DevTools protocol reports.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty"`
	Size     int     `json:"size,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	Session  bool    `json:"session,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

// V1Request is the incoming command payload for POST /v1.
type V1Request struct {
	Cmd               string   `json:"cmd"`
	URL               string   `json:"url,omitempty"`
	PostData          string   `json:"postData,omitempty"`
	Session           string   `json:"session,omitempty"`
	SessionTTLMinutes int      `json:"session_ttl_minutes,omitempty"`
	MaxTimeout        int      `json:"maxTimeout,omitempty"`
	Cookies           []Cookie `json:"cookies,omitempty"`
	Proxy             *Proxy   `json:"proxy,omitempty"`
	ReturnOnlyCookies bool     `json:"returnOnlyCookies,omitempty"`

	// Removed in protocol v2. Accepted for backward compatibility and
	// ignored with a warning.
	Headers       map[string]string `json:"headers,omitempty"`
	UserAgent     string            `json:"userAgent,omitempty"`
	ReturnRawHTML *bool             `json:"returnRawHtml,omitempty"`
	Download      *bool             `json:"download,omitempty"`
}

// DeprecatedFields reports which removed request parameters the caller still
// supplied, so the dispatcher can warn once per request.
func (r *V1Request) DeprecatedFields() []string {
	var fields []string
	if r.Headers != nil {
		fields = append(fields, "headers")
	}
	if r.UserAgent != "" {
		fields = append(fields, "userAgent")
	}
	if r.ReturnRawHTML != nil {
		fields = append(fields, "returnRawHtml")
	}
	if r.Download != nil {
		fields = append(fields, "download")
	}
	return fields
}

// SessionTTL converts the request's TTL, expressed in minutes, to a duration.
// Zero means "no TTL".
func (r *V1Request) SessionTTL() time.Duration {
	return time.Duration(r.SessionTTLMinutes) * time.Minute
}

// Solution carries the outcome of a cleared (or never-challenged) page.
//
// Status is always 200 and Headers is always empty: the DevTools session
// observes the rendered document, not the raw HTTP exchange. These are
// documented protocol limitations, preserved for compatibility.
type Solution struct {
	URL       string            `json:"url"`
	Status    int               `json:"status"`
	Cookies   []Cookie          `json:"cookies"`
	UserAgent string            `json:"userAgent"`
	Headers   map[string]string `json:"headers,omitempty"`
	Response  string            `json:"response,omitempty"`
}

// V1Response is the uniform envelope for every /v1 reply. Failures are
// signalled only through Status and Message; the envelope itself is always
// well formed. Sessions carries no omitempty so that an empty sessions.list
// still sends the array.
type V1Response struct {
	Status         string    `json:"status"`
	Message        string    `json:"message"`
	Session        string    `json:"session,omitempty"`
	Sessions       []string  `json:"sessions"`
	StartTimestamp int64     `json:"startTimestamp"`
	EndTimestamp   int64     `json:"endTimestamp"`
	Version        string    `json:"version"`
	Solution       *Solution `json:"solution,omitempty"`
}

// IndexResponse is the GET / payload.
type IndexResponse struct {
	Msg       string `json:"msg"`
	Version   string `json:"version"`
	UserAgent string `json:"userAgent"`
}

// HealthResponse is the GET /health payload.
type HealthResponse struct {
	Status string `json:"status"`
}

// DecodeV1Request parses an incoming command payload.
func DecodeV1Request(r io.Reader) (*V1Request, error) {
	var req V1Request
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, fmt.Errorf("failed to decode v1 request body: %w", err)
	}
	return &req, nil
}

// EncodeV1Response serializes a response envelope to the writer.
func EncodeV1Response(w io.Writer, res *V1Response) error {
	if err := json.NewEncoder(w).Encode(res); err != nil {
		return fmt.Errorf("failed to encode v1 response: %w", err)
	}
	return nil
}

// Marshal is a convenience wrapper used by log statements and tests.
func Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}
