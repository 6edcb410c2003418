package extjob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"talkreel/internal/fileutil"
	"talkreel/internal/logging"
	"talkreel/internal/services"
)

const snippetLimit = 300

// Request describes one call to a long-lived HTTP service.
type Request struct {
	// Name labels the service in logs and errors.
	Name   string
	Method string
	URL    string
	Header map[string]string
	// Body is JSON-encoded when non-nil.
	Body    any
	Timeout time.Duration
	// MinBytes rejects 2xx bodies shorter than this.
	MinBytes int64
	// ContentTypes lists accepted media-type prefixes such as "audio/".
	// Empty accepts anything.
	ContentTypes []string
	// Destination, when set, receives the body through an atomic rename.
	Destination string
}

// Response is a validated service answer.
type Response struct {
	StatusCode  int
	ContentType string
	// Body is nil when the payload was written to Destination.
	Body []byte
	Path string
	Size int64
}

// Call issues the request and validates the answer. A 2xx response whose
// body is too small or of the wrong type is reported as ErrMalformedResponse.
func (r *Runner) Call(ctx context.Context, req Request) (Response, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "service"
	}
	if strings.TrimSpace(req.URL) == "" {
		return Response{}, services.Wrap(services.ErrValidation, "extjob", name, "url required", nil)
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
		if req.Body != nil {
			method = http.MethodPost
		}
	}

	callCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	var body io.Reader
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return Response{}, services.Wrap(services.ErrValidation, "extjob", name, "encode request", err)
		}
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(callCtx, method, req.URL, body)
	if err != nil {
		return Response{}, services.Wrap(services.ErrValidation, "extjob", name, "build request", err)
	}
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for key, value := range req.Header {
		httpReq.Header.Set(key, value)
	}

	logger := logging.WithContext(ctx, r.logger).With(logging.String("service", name))
	started := r.now()
	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return Response{}, fmt.Errorf("%w: %s: no answer within %s: %w", services.ErrTimeout, name, req.Timeout, err)
		}
		return Response{}, fmt.Errorf("%w: %s: %w", ErrUnavailable, name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return Response{}, fmt.Errorf("%w: %s: body not received within %s: %w", services.ErrTimeout, name, req.Timeout, err)
		}
		return Response{}, fmt.Errorf("%w: %s: read body: %w", ErrUnavailable, name, err)
	}
	contentType := resp.Header.Get("Content-Type")
	logger.Debug("service call finished",
		logging.Int("status", resp.StatusCode),
		logging.String("content_type", contentType),
		logging.Int("bytes", len(data)),
		logging.Duration("duration", r.now().Sub(started)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Response{}, &StatusError{Service: name, StatusCode: resp.StatusCode, Snippet: snippet(data)}
	}
	if !acceptsContentType(req.ContentTypes, contentType) {
		return Response{}, fmt.Errorf("%w: %s: unexpected content type %q: %s", ErrMalformedResponse, name, contentType, snippet(data))
	}
	if req.MinBytes > 0 && int64(len(data)) < req.MinBytes {
		return Response{}, fmt.Errorf("%w: %s: body has %d bytes, want at least %d", ErrMalformedResponse, name, len(data), req.MinBytes)
	}

	out := Response{StatusCode: resp.StatusCode, ContentType: contentType, Size: int64(len(data))}
	if req.Destination == "" {
		out.Body = data
		return out, nil
	}
	if _, err := fileutil.WriteAtomic(req.Destination, bytes.NewReader(data)); err != nil {
		return Response{}, fmt.Errorf("%s: write %s: %w", name, req.Destination, err)
	}
	out.Path = req.Destination
	return out, nil
}

func acceptsContentType(accepted []string, contentType string) bool {
	if len(accepted) == 0 {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	for _, prefix := range accepted {
		if strings.HasPrefix(mediaType, strings.ToLower(prefix)) {
			return true
		}
	}
	return false
}

func snippet(data []byte) string {
	text := strings.Join(strings.Fields(string(data)), " ")
	return truncate(text, snippetLimit)
}
