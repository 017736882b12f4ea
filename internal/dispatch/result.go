package dispatch

import "encoding/json"

// Status is the normalized outcome of a dispatch.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// ErrorKind distinguishes failure causes in diagnostics.
type ErrorKind string

const (
	KindNone       ErrorKind = ""
	KindTimeout    ErrorKind = "timeout"
	KindConnection ErrorKind = "connection"
	KindHTTPStatus ErrorKind = "http_status"
	KindMalformed  ErrorKind = "malformed"
	KindEndpoint   ErrorKind = "endpoint"
	KindInternal   ErrorKind = "internal"
)

// Result is the uniform shape of every dispatch, successful or not.
type Result struct {
	ID         string
	URL        string
	ChatID     string
	CommandSet string
	Status     Status
	Kind       ErrorKind
	Message    string
	Data       any // decoded payload; nil on failure
	Raw        string
	HTTPStatus int
	LatencyMs  int64
}

// OK reports whether the dispatch succeeded.
func (r Result) OK() bool { return r.Status == StatusOK }

// endpointBody is the response shape endpoints are expected to return.
type endpointBody struct {
	Status  *string         `json:"status"`
	Message *string         `json:"message"`
	Data    json.RawMessage `json:"data"`
}
