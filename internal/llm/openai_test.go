package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func completionBody(content string) string {
	b, _ := json.Marshal(map[string]any{
		"id":    "cmpl-1",
		"model": "test-model",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 5, "total_tokens": 17},
	})
	return string(b)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAIClient(OpenAIConfig{
		APIKey:  "test",
		BaseURL: srv.URL + "/v1",
		Model:   "test-model",
		Timeout: 5 * time.Second,
	})
}

func TestGenerate_MapsHistoryRoles(t *testing.T) {
	var got capturedRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionBody("E04 means the door is not latched.")))
	})

	resp, err := client.Generate(context.Background(), Request{
		System: "system block",
		History: []Message{
			{Role: RoleUser, Content: "hi"},
			{Role: RoleAgent, Content: "hello"},
		},
		Query: "What does E04 mean?",
	})
	require.NoError(t, err)

	assert.Equal(t, "E04 means the door is not latched.", resp.Content)
	assert.Equal(t, 17, resp.Usage.TotalTokens)

	require.Len(t, got.Messages, 4)
	roles := []string{got.Messages[0].Role, got.Messages[1].Role, got.Messages[2].Role, got.Messages[3].Role}
	assert.Equal(t, []string{"system", "user", "assistant", "user"}, roles)
	assert.Equal(t, "What does E04 mean?", got.Messages[3].Content)
}

func TestGenerate_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad","type":"invalid_request_error"}}`))
	})

	_, err := client.Generate(context.Background(), Request{Query: "x"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGenerate_EmptyContent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionBody("  ")))
	})

	_, err := client.Generate(context.Background(), Request{Query: "x"})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestDescribe_SendsImageAsDataURI(t *testing.T) {
	var raw string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		buf := new(strings.Builder)
		_, _ = readBody(buf, r)
		raw = buf.String()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionBody(`{"image_type":"room"}`)))
	})

	out, err := client.Describe(context.Background(), "describe", Image{Data: []byte{0xff, 0xd8, 0xff}, MIMEType: "image/jpeg"})
	require.NoError(t, err)

	assert.Equal(t, `{"image_type":"room"}`, out)
	assert.Contains(t, raw, "data:image/jpeg;base64,")
	assert.Contains(t, raw, `"type":"image_url"`)
}

func readBody(dst *strings.Builder, r *http.Request) (int64, error) {
	b, err := io.ReadAll(r.Body)
	dst.Write(b)
	return int64(len(b)), err
}
