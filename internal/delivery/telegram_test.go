package delivery

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fablecast/fablecast/internal/config"
)

func TestTelegramSendUploadsMultipart(t *testing.T) {
	var gotPath string
	var gotChatID string
	var gotAudio string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		gotChatID = r.FormValue("chat_id")
		file, _, err := r.FormFile("audio")
		if err != nil {
			t.Errorf("form file: %v", err)
			http.Error(w, "no audio", http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		gotAudio = string(data)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	audioPath := filepath.Join(t.TempDir(), "chapter_1.mp3")
	if err := os.WriteFile(audioPath, []byte("audio-bytes"), 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}

	sink := NewTelegramSink(config.DeliveryConfig{BotToken: "token-123", ChatID: "-100", TimeoutMS: 5000}).(*telegramSink)
	sink.baseURL = server.URL

	if err := sink.Send(context.Background(), audioPath); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotPath != "/bottoken-123/sendAudio" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotChatID != "-100" {
		t.Fatalf("unexpected chat id %q", gotChatID)
	}
	if gotAudio != "audio-bytes" {
		t.Fatalf("unexpected audio payload %q", gotAudio)
	}
}

func TestTelegramSendReportsAPIFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"ok":false}`, http.StatusForbidden)
	}))
	defer server.Close()

	audioPath := filepath.Join(t.TempDir(), "a.mp3")
	if err := os.WriteFile(audioPath, []byte("x"), 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}

	sink := NewTelegramSink(config.DeliveryConfig{BotToken: "t", ChatID: "c", TimeoutMS: 5000}).(*telegramSink)
	sink.baseURL = server.URL

	err := sink.Send(context.Background(), audioPath)
	if err == nil {
		t.Fatal("expected error for non-2xx status")
	}
	if !strings.Contains(err.Error(), "403") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCleanupSinkRemovesDeliveredFile(t *testing.T) {
	audioPath := filepath.Join(t.TempDir(), "a.mp3")
	if err := os.WriteFile(audioPath, []byte("x"), 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}

	inner := NewMockSink()
	sink := NewCleanupSink(inner)

	inner.FailNext()
	if err := sink.Send(context.Background(), audioPath); err == nil {
		t.Fatal("expected inner failure to propagate")
	}
	if _, err := os.Stat(audioPath); err != nil {
		t.Fatalf("file must survive a failed delivery: %v", err)
	}

	if err := sink.Send(context.Background(), audioPath); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := os.Stat(audioPath); !os.IsNotExist(err) {
		t.Fatalf("file should be removed after delivery, stat err: %v", err)
	}
}

func TestMockSinkFailNext(t *testing.T) {
	audioPath := filepath.Join(t.TempDir(), "a.mp3")
	if err := os.WriteFile(audioPath, []byte("x"), 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}

	sink := NewMockSink()
	sink.FailNext()
	if err := sink.Send(context.Background(), audioPath); err == nil {
		t.Fatal("expected injected failure")
	}
	if err := sink.Send(context.Background(), audioPath); err != nil {
		t.Fatalf("second send should succeed: %v", err)
	}
	if len(sink.Sent()) != 1 {
		t.Fatalf("expected 1 delivered file, got %d", len(sink.Sent()))
	}
}
