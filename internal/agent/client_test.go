package agent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOpenAIProvider_NoKey(t *testing.T) {
	chat, err := NewOpenAIProvider(ModelConfig{APIKey: "  "})()
	require.NoError(t, err)
	assert.Nil(t, chat)
}

func TestNewOpenAIProvider_WithLimits(t *testing.T) {
	chat, err := NewOpenAIProvider(ModelConfig{APIKey: "sk-test", MaxConcurrent: 2})()
	require.NoError(t, err)
	assert.IsType(t, &RateLimitedModel{}, chat)
}

// slowModel tracks how many Generate calls overlap.
type slowModel struct {
	active  atomic.Int32
	maxSeen atomic.Int32
}

func (m *slowModel) Generate(ctx context.Context, _ []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	n := m.active.Add(1)
	defer m.active.Add(-1)
	for {
		seen := m.maxSeen.Load()
		if n <= seen || m.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)
	return schema.AssistantMessage("ok", nil), nil
}

func (m *slowModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, nil
}

func TestRateLimitedModel_CapsConcurrency(t *testing.T) {
	inner := &slowModel{}
	chat := NewRateLimitedModel(inner, 0, 1)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := chat.Generate(context.Background(), nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), inner.maxSeen.Load())
}

func TestRateLimitedModel_Unlimited(t *testing.T) {
	inner := &slowModel{}
	assert.Same(t, model.BaseChatModel(inner), NewRateLimitedModel(inner, 0, 0))
}

func TestRateLimitedModel_CancelledWait(t *testing.T) {
	chat := NewRateLimitedModel(&slowModel{}, 0, 1).(*RateLimitedModel)
	chat.limiter.semaphore <- struct{}{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := chat.Generate(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWhisperClient_Transcribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		_, header, err := r.FormFile("file")
		require.NoError(t, err)
		assert.Equal(t, "chunk.webm", header.Filename)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"  Headache for two days. "}`))
	}))
	defer srv.Close()

	stt := NewWhisperClient("sk-test", "", srv.URL+"/v1/")
	text, err := stt.Transcribe(context.Background(), []byte("audio"), "chunk")
	require.NoError(t, err)
	assert.Equal(t, "Headache for two days.", text)
}

func TestWhisperClient_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad audio"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewWhisperClient("sk-test", "", srv.URL).Transcribe(context.Background(), []byte("x"), "a.webm")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad audio")

	text, err := NewWhisperClient("", "", srv.URL).Transcribe(context.Background(), []byte("x"), "a.webm")
	require.NoError(t, err)
	assert.Equal(t, TranscriptionUnavailable, text)

	text, err = NewWhisperClient("sk-test", "", srv.URL).Transcribe(context.Background(), nil, "a.webm")
	require.NoError(t, err)
	assert.Empty(t, text)
}
