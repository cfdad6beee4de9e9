package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/go-go-golems/lifeline/pkg/chat"
)

// HTTPClient implements Client against the chat service's REST endpoints.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
	logger  zerolog.Logger
}

var _ Client = &HTTPClient{}

type HTTPOption func(*HTTPClient)

// WithHTTPClient overrides the underlying http.Client (mainly for tests).
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPClient) { h.client = c }
}

// WithToken sets the bearer token sent with every request.
func WithToken(token string) HTTPOption {
	return func(h *HTTPClient) { h.token = token }
}

func NewHTTPClient(baseURL string, logger zerolog.Logger, options ...HTTPOption) (*HTTPClient, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("http transport: base url is empty")
	}
	h := &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
		logger:  logger.With().Str("component", "transport").Logger(),
	}
	for _, opt := range options {
		opt(h)
	}
	return h, nil
}

// StatusError carries the HTTP status and the server's error string for
// non-2xx responses.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

type sessionEnvelope struct {
	Session chat.Session `json:"session"`
}

type statusEnvelope struct {
	Session chat.StatusSnapshot `json:"session"`
}

type messagesEnvelope struct {
	Messages []chat.Message `json:"messages"`
}

type sendEnvelope struct {
	Message chat.Message `json:"message"`
	Warning string       `json:"warning,omitempty"`
}

type feedbackEnvelope struct {
	FeedbackID string `json:"feedbackId"`
}

func (h *HTTPClient) RequestSession(ctx context.Context) (chat.Session, error) {
	var out sessionEnvelope
	err := h.do(ctx, http.MethodPost, "/api/chat/sessions", map[string]any{}, &out)
	if err != nil {
		return chat.Session{}, errors.Wrap(err, "request session")
	}
	return out.Session, nil
}

func (h *HTTPClient) SessionStatus(ctx context.Context, sessionID string) (chat.StatusSnapshot, error) {
	var out statusEnvelope
	err := h.do(ctx, http.MethodGet, "/api/chat/sessions/"+url.PathEscape(sessionID), nil, &out)
	if err != nil {
		return chat.StatusSnapshot{}, errors.Wrap(err, "fetch session status")
	}
	return out.Session, nil
}

func (h *HTTPClient) CancelSession(ctx context.Context, sessionID string) error {
	err := h.do(ctx, http.MethodPost, "/api/chat/sessions/"+url.PathEscape(sessionID),
		map[string]any{"action": "cancel"}, nil)
	return errors.Wrap(err, "cancel session")
}

func (h *HTTPClient) Messages(ctx context.Context, sessionID string, after *time.Time) ([]chat.Message, error) {
	params := url.Values{"sessionId": {sessionID}}
	if after != nil {
		params.Set("after", after.UTC().Format(time.RFC3339Nano))
	}
	var out messagesEnvelope
	err := h.do(ctx, http.MethodGet, "/api/chat/messages?"+params.Encode(), nil, &out)
	if err != nil {
		return nil, errors.Wrap(err, "fetch messages")
	}
	return out.Messages, nil
}

func (h *HTTPClient) SendMessage(ctx context.Context, sessionID, content, clientMessageID string) (SendResult, error) {
	body := map[string]any{
		"sessionId":       sessionID,
		"content":         content,
		"clientMessageId": clientMessageID,
	}
	var out sendEnvelope
	if err := h.do(ctx, http.MethodPost, "/api/chat/messages", body, &out); err != nil {
		return SendResult{}, errors.Wrap(err, "send message")
	}
	return SendResult{
		Message:   out.Message,
		Duplicate: strings.Contains(strings.ToLower(out.Warning), "duplicate"),
	}, nil
}

func (h *HTTPClient) Typing(ctx context.Context, sessionID string, active bool) error {
	status := "stop"
	if active {
		status = "start"
	}
	err := h.do(ctx, http.MethodPost, "/api/chat/typing",
		map[string]any{"sessionId": sessionID, "status": status}, nil)
	return errors.Wrap(err, "send typing signal")
}

func (h *HTTPClient) FlagMessage(ctx context.Context, sessionID, messageID, reason string) error {
	err := h.do(ctx, http.MethodPut, "/api/chat/messages/"+url.PathEscape(messageID),
		map[string]any{"sessionId": sessionID, "action": "flag", "reason": reason}, nil)
	return errors.Wrap(err, "flag message")
}

func (h *HTTPClient) SubmitFeedback(ctx context.Context, sessionID string, feedback chat.Feedback) (string, error) {
	body := map[string]any{
		"sessionId": sessionID,
		"rating":    feedback.Rating,
		"comments":  feedback.Comments,
		"metadata":  feedback.Metadata,
	}
	var out feedbackEnvelope
	if err := h.do(ctx, http.MethodPost, "/api/chat/feedback", body, &out); err != nil {
		return "", errors.Wrap(err, "submit feedback")
	}
	return out.FeedbackID, nil
}

func (h *HTTPClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "marshal request body")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "perform request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var serverErr struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = json.Unmarshal(raw, &serverErr)
		h.logger.Debug().
			Str("method", method).
			Str("path", path).
			Int("status", resp.StatusCode).
			Msg("request failed")
		return &StatusError{StatusCode: resp.StatusCode, Message: serverErr.Error}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}
