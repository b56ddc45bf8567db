package agent

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// TranscriptionUnavailable is returned as text when no API key is configured.
const TranscriptionUnavailable = "Transcription unavailable (no OPENAI_API_KEY)."

type STTClient interface {
	Transcribe(ctx context.Context, audioData []byte, fileName string) (string, error)
}

type whisperClient struct {
	apiKey  string
	model   string
	baseURL string
	http    *resty.Client
}

func NewWhisperClient(apiKey, model, baseURL string) STTClient {
	if model == "" {
		model = "whisper-1"
	}
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	client := resty.New()
	client.SetTimeout(60 * time.Second)
	client.SetRetryCount(2)
	client.SetRetryWaitTime(1 * time.Second)
	client.SetRetryMaxWaitTime(5 * time.Second)

	return &whisperClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    client,
	}
}

type sttResponse struct {
	Text string `json:"text"`
}

func (c *whisperClient) Transcribe(ctx context.Context, audioData []byte, fileName string) (string, error) {
	if c.apiKey == "" {
		return TranscriptionUnavailable, nil
	}
	if len(audioData) == 0 {
		return "", nil
	}
	if filepath.Ext(fileName) == "" {
		fileName += ".webm"
	}

	var result sttResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(c.apiKey).
		SetFileReader("file", filepath.Base(fileName), bytes.NewReader(audioData)).
		SetFormData(map[string]string{"model": c.model}).
		SetResult(&result).
		Post(c.baseURL + "/audio/transcriptions")
	if err != nil {
		return "", fmt.Errorf("transcription request failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("STT API error: %s - %s", resp.Status(), resp.String())
	}
	return strings.TrimSpace(result.Text), nil
}
