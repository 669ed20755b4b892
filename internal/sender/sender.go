// Package sender is the outbound chat boundary. The dispatcher only
// knows the Sender interface; everything platform-specific lives here.
package sender

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Sender delivers one chat message to a room.
type Sender interface {
	Send(ctx context.Context, roomID int64, text string) error
}

// LogSender logs instead of sending (for development and tests)
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, roomID int64, text string) error {
	s.logger.Info("chat message sent",
		zap.Int64("room_id", roomID),
		zap.String("text", text),
	)
	return nil
}

// Credentials are the opaque bot cookies the chat endpoint expects.
type Credentials struct {
	SessData string
	CSRF     string
	Buvid    string
}

// ChatConfig configures the platform chat sender.
type ChatConfig struct {
	APIURL      string
	Credentials Credentials
	Timeout     time.Duration
}

// ChatSender posts messages to the platform's chat endpoint. The
// platform answers HTTP 200 even for refusals, with the real outcome in
// a JSON code field; only code 0 is a delivered message.
type ChatSender struct {
	client *http.Client
	config ChatConfig
	logger *zap.Logger
}

// NewChatSender creates a chat sender.
func NewChatSender(cfg ChatConfig, logger *zap.Logger) *ChatSender {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &ChatSender{
		client: &http.Client{Timeout: timeout},
		config: cfg,
		logger: logger,
	}
}

type chatResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Send posts one message. Errors cover transport failures, non-2xx
// responses, and platform refusal codes alike; the caller treats all of
// them as a failed delivery.
func (s *ChatSender) Send(ctx context.Context, roomID int64, text string) error {
	if text == "" {
		// Reporting success here would mark a queue row sent with no
		// delivery behind it.
		return errors.New("refusing to send empty message text")
	}

	form := url.Values{}
	form.Set("msg", text)
	form.Set("roomid", strconv.FormatInt(roomID, 10))
	form.Set("csrf", s.config.Credentials.CSRF)
	form.Set("csrf_token", s.config.Credentials.CSRF)
	form.Set("rnd", strconv.FormatInt(time.Now().Unix(), 10))
	form.Set("color", "16777215")
	form.Set("fontsize", "25")
	form.Set("mode", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: "SESSDATA", Value: s.config.Credentials.SessData})
	req.AddCookie(&http.Cookie{Name: "bili_jct", Value: s.config.Credentials.CSRF})
	req.AddCookie(&http.Cookie{Name: "buvid3", Value: s.config.Credentials.Buvid})

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("chat endpoint returned status %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fmt.Errorf("decode chat response: %w", err)
	}
	if parsed.Code != 0 {
		return fmt.Errorf("chat endpoint refused message: code=%d message=%s", parsed.Code, parsed.Message)
	}

	s.logger.Info("chat message delivered",
		zap.Int64("room_id", roomID),
		zap.Int("length", len([]rune(text))),
	)
	return nil
}
