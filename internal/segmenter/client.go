package segmenter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/fablecast/fablecast/internal/transcript"
)

// Client turns one chapter's prose into attributed segments.
type Client interface {
	Segment(ctx context.Context, chapterText string) ([]transcript.Segment, error)
}

const systemPrompt = `You are given a novel chapter. Split it into a JSON array where each item has four keys:
- "speaker": either "narrator" or the exact character name speaking (as in the text, e.g., "Chen Ping", "Liu Mei")
- "gender": "male", "female" or "unknown", derived from the name with best judgment
- "mood": a short tone cue like "angry" or "mocking" taken from the text, or "" if none
- "text": the exact text for that speaker.

Rules:
1. Do not skip or paraphrase any part of the chapter. Every sentence must appear exactly as in the original.
2. Any non-dialogue description is assigned to the "narrator" with gender "unknown".
3. If a line contains both dialogue and narration, split it into two entries.
4. Do not add or invent any content not present in the chapter.
5. Output only the JSON array, no explanations.`

// chatClient calls an OpenAI-compatible chat completions endpoint.
type chatClient struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

func NewChatClient(endpoint, apiKey, model string, httpClient *http.Client) Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &chatClient{endpoint: endpoint, apiKey: apiKey, model: model, client: httpClient}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *chatClient) Segment(ctx context.Context, chapterText string) ([]transcript.Segment, error) {
	payload := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: chapterText},
		},
		Temperature: 0,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("segmenter endpoint returned status %s", resp.Status)
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode segmenter response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return nil, fmt.Errorf("segmenter response has no choices")
	}
	return parseSegments(decoded.Choices[0].Message.Content)
}

type rawSegment struct {
	Speaker string `json:"speaker"`
	Gender  string `json:"gender"`
	Mood    string `json:"mood"`
	Text    string `json:"text"`
}

// parseSegments extracts the JSON array from model output, tolerating
// fenced code blocks and surrounding prose.
func parseSegments(raw string) ([]transcript.Segment, error) {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array found in segmenter output")
	}

	var items []rawSegment
	if err := json.Unmarshal([]byte(raw[start:end+1]), &items); err != nil {
		return nil, fmt.Errorf("parse segmenter output: %w", err)
	}

	var segments []transcript.Segment
	for _, item := range items {
		text := strings.TrimSpace(item.Text)
		if text == "" {
			continue
		}
		speaker := strings.TrimSpace(item.Speaker)
		if speaker == "" || strings.EqualFold(speaker, "narration") {
			speaker = transcript.NarratorSpeaker
		}
		segments = append(segments, transcript.Segment{
			Speaker: speaker,
			Gender:  transcript.NormalizeGender(item.Gender),
			Mood:    sanitizeField(item.Mood),
			Text:    sanitizeField(text),
		})
	}
	return segments, nil
}

// sanitizeField strips characters the transcript wire format cannot
// carry.
func sanitizeField(s string) string {
	s = strings.ReplaceAll(s, "\t", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(s)
}
