package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/fablecast/fablecast/internal/config"
)

// telegramSink uploads audio through the Bot API sendAudio endpoint.
type telegramSink struct {
	baseURL string
	token   string
	chatID  string
	client  *http.Client
}

func NewTelegramSink(cfg config.DeliveryConfig) Sink {
	return &telegramSink{
		baseURL: "https://api.telegram.org",
		token:   cfg.BotToken,
		chatID:  cfg.ChatID,
		client:  &http.Client{Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond},
	}
}

func (t *telegramSink) Send(ctx context.Context, audioPath string) error {
	file, err := os.Open(audioPath)
	if err != nil {
		return fmt.Errorf("open audio file: %w", err)
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("chat_id", t.chatID); err != nil {
		return fmt.Errorf("write chat_id field: %w", err)
	}
	part, err := writer.CreateFormFile("audio", filepath.Base(audioPath))
	if err != nil {
		return fmt.Errorf("create audio part: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("copy audio data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("finalize multipart body: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendAudio", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("send audio: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram returned status %s: %s", resp.Status, string(detail))
	}
	return nil
}
