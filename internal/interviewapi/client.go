// Package interviewapi is the HTTP client for the remote interview backend
// (thread creation, transcription, reasoning replies, speech synthesis and
// transcript persistence).
package interviewapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/yoockh/yoovoice/internal/metrics"
	"github.com/yoockh/yoovoice/internal/utils"
)

const maxResponseBytes = 1 << 20

// NewPooledHTTPClient creates an http.Client with connection pooling and tuned transport.
func NewPooledHTTPClient(poolSize int, timeout time.Duration) *http.Client {
	if poolSize <= 0 {
		poolSize = 10
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:          poolSize,
			MaxIdleConnsPerHost:   poolSize,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}
}

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = NewPooledHTTPClient(10, 60*time.Second)
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

func (c *Client) NewChat(ctx context.Context, req NewChatRequest) (*NewChatResponse, error) {
	const op = "interviewapi.NewChat"

	var out NewChatResponse
	if err := c.postJSON(ctx, op, "new_chat", "/new_chat", req, &out); err != nil {
		return nil, err
	}
	if out.ThreadID == "" {
		return nil, utils.E(utils.CodeUnavailable, op, "backend returned no thread_id", nil)
	}
	return &out, nil
}

// SpeechToText uploads one captured clip under the user's email namespace.
func (c *Client) SpeechToText(ctx context.Context, email string, clip []byte) (*Transcription, error) {
	const op = "interviewapi.SpeechToText"

	if len(clip) == 0 {
		return nil, utils.E(utils.CodeInvalidArgument, op, "empty clip", nil)
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", "recording-"+uuid.NewString()+".wav")
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "create form file", err)
	}
	if _, err := part.Write(clip); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "write clip", err)
	}
	if err := w.Close(); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "close multipart writer", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/speech-to-text/"+url.PathEscape(email), &body)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "create request", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var out Transcription
	if err := c.do(op, "stt", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	var out ChatResponse
	if err := c.postJSON(ctx, "interviewapi.Chat", "chat", "/chat", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) TextToSpeech(ctx context.Context, req SpeechRequest) (*Speech, error) {
	const op = "interviewapi.TextToSpeech"

	var out Speech
	if err := c.postJSON(ctx, op, "tts", "/text-to-speech", req, &out); err != nil {
		return nil, err
	}
	if out.AudioURL == "" {
		return nil, utils.E(utils.CodeUnavailable, op, "backend returned no audio_url", nil)
	}
	return &out, nil
}

func (c *Client) SaveChatHistory(ctx context.Context, req ChatHistoryRequest) error {
	return c.postJSON(ctx, "interviewapi.SaveChatHistory", "save", "/chat_history", req, nil)
}

func (c *Client) postJSON(ctx context.Context, op, stage, path string, in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return utils.E(utils.CodeInternal, op, "marshal request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return utils.E(utils.CodeInternal, op, "create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(op, stage, req, out)
}

func (c *Client) do(op, stage string, req *http.Request, out any) error {
	start := time.Now()
	defer func() {
		metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}()

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.Errors.WithLabelValues(stage, "http").Inc()
		if req.Context().Err() != nil {
			return utils.E(utils.CodeTimeout, op, "request cancelled", err)
		}
		return utils.E(utils.CodeUnavailable, op, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		metrics.Errors.WithLabelValues(stage, "read").Inc()
		return utils.E(utils.CodeUnavailable, op, "read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.Errors.WithLabelValues(stage, "status").Inc()
		return utils.E(utils.CodeUnavailable, op, fmt.Sprintf("status %d", resp.StatusCode), fmt.Errorf("%s", strings.TrimSpace(string(body))))
	}

	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		metrics.Errors.WithLabelValues(stage, "decode").Inc()
		return utils.E(utils.CodeUnavailable, op, "decode response", err)
	}
	return nil
}
