package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"senechal/internal/command"

	"github.com/google/uuid"
)

const defaultMaxBodyBytes = 4 << 20

// Doer performs HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Dispatcher issues one POST per matched command and normalizes every
// outcome into a Result. It never retries.
type Dispatcher struct {
	client       Doer
	logger       *slog.Logger
	maxBodyBytes int64
	userAgent    string
}

// Config holds the dependencies of a Dispatcher.
type Config struct {
	Client       Doer // default: SharedHTTPClient
	Logger       *slog.Logger
	MaxBodyBytes int64
	UserAgent    string
}

func New(cfg Config) *Dispatcher {
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(0)
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "senechal"
	}
	return &Dispatcher{
		client:       cfg.Client,
		logger:       cfg.Logger,
		maxBodyBytes: cfg.MaxBodyBytes,
		userAgent:    cfg.UserAgent,
	}
}

// Send performs req synchronously within req.Timeout. Failures of any kind,
// including panics in the transport, come back as a Result with
// Status == StatusError.
func (d *Dispatcher) Send(ctx context.Context, req *command.OutboundRequest) (res Result) {
	res = Result{
		ID:         uuid.NewString(),
		URL:        req.URL,
		ChatID:     req.ChatID,
		CommandSet: req.CommandSet,
	}
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			res.fail(KindInternal, fmt.Sprintf("internal error: %v", r))
		}
		res.LatencyMs = time.Since(start).Milliseconds()
		d.logger.Info("dispatch finished",
			"id", res.ID,
			"command", res.CommandSet,
			"status", res.Status,
			"kind", res.Kind,
			"http_status", res.HTTPStatus,
			"latency_ms", res.LatencyMs,
		)
	}()

	d.logger.Info("dispatching command",
		"id", res.ID,
		"command", req.CommandSet,
		"url", req.URL,
		"args", argNames(req.Args),
		"timeout", req.Timeout,
	)

	body, err := json.Marshal(req.Args)
	if err != nil {
		res.fail(KindInternal, fmt.Sprintf("cannot encode request body: %v", err))
		return res
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	method := req.Method
	if method == "" {
		method = http.MethodPost
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, bytes.NewReader(body))
	if err != nil {
		res.fail(KindInternal, fmt.Sprintf("cannot build request: %v", err))
		return res
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", d.userAgent)
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := d.client.Do(httpReq)
	if err != nil {
		res.fail(classify(ctx, err, req.Timeout))
		return res
	}
	defer resp.Body.Close()

	res.HTTPStatus = resp.StatusCode
	raw, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBodyBytes))
	res.Raw = string(raw)
	if err != nil {
		res.fail(classify(ctx, err, req.Timeout))
		return res
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		res.fail(KindHTTPStatus, fmt.Sprintf("endpoint returned HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode)))
		return res
	}

	decodeBody(&res, raw)
	return res
}

func (r *Result) fail(kind ErrorKind, msg string) {
	r.Status = StatusError
	r.Kind = kind
	r.Message = msg
	r.Data = nil
}

// decodeBody fills a 2xx result from the response body. Bodies in the
// {status, message, data} shape are unpacked; any other JSON is kept whole
// as Data.
func decodeBody(res *Result, raw []byte) {
	res.Status = StatusOK
	if len(bytes.TrimSpace(raw)) == 0 {
		return
	}

	payload, err := decodeJSON(raw)
	if err != nil {
		res.fail(KindMalformed, fmt.Sprintf("malformed response: %v", err))
		return
	}

	obj, isObject := payload.(map[string]any)
	if !isObject || !hasAnyKey(obj, "status", "message", "data") {
		res.Data = payload
		return
	}

	var body endpointBody
	if err := json.Unmarshal(raw, &body); err != nil {
		// status or message of an unexpected type: keep the whole payload.
		res.Data = payload
		return
	}
	if body.Message != nil {
		res.Message = *body.Message
	}
	if body.Status != nil && isErrorStatus(*body.Status) {
		msg := res.Message
		if msg == "" {
			msg = "endpoint reported status " + *body.Status
		}
		res.fail(KindEndpoint, msg)
		return
	}
	if len(body.Data) > 0 {
		data, err := decodeJSON(body.Data)
		if err == nil {
			res.Data = data
		}
	}
}

func decodeJSON(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after JSON value")
	}
	return v, nil
}

func hasAnyKey(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}

func isErrorStatus(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error", "err", "fail", "failed", "failure":
		return true
	}
	return false
}

func classify(ctx context.Context, err error, timeout time.Duration) (ErrorKind, string) {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return KindTimeout, fmt.Sprintf("request timed out after %s", timeout)
	}
	if errors.Is(err, context.Canceled) {
		return KindConnection, "request canceled"
	}
	return KindConnection, fmt.Sprintf("connection failed: %v", err)
}

func argNames(args map[string]any) []string {
	names := make([]string, 0, len(args))
	for k := range args {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}
