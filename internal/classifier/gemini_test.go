package classifier

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixelka/mailtriage/pkg/models"
)

func newTestGemini(t *testing.T, handler http.HandlerFunc) *Gemini {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewGemini(Config{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Model:   "gemini-test",
		Prompt:  PromptOptions{Timezone: "Asia/Kolkata"},
		Timeout: 2 * time.Second,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func candidate(text string) map[string]interface{} {
	return map[string]interface{}{
		"candidates": []interface{}{
			map[string]interface{}{
				"content":      map[string]interface{}{"role": "model", "parts": []interface{}{map[string]interface{}{"text": text}}},
				"finishReason": "STOP",
			},
		},
		"usageMetadata": map[string]interface{}{"totalTokenCount": 42},
	}
}

func TestClassify(t *testing.T) {
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-test:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))

		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Contents, 1)
		assert.Contains(t, req.Contents[0].Parts[0].Text, "Weekly digest")
		assert.Equal(t, "application/json", req.GenerationConfig.ResponseMIMEType)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(candidate(`{"category":"not_important","confidence":0.8,"summary":"Newsletter","action":"archive",` +
			`"reply_template":{"should_reply":false,"subject":null,"body":null},"metadata":{"calendar_event":null}}`))
	})

	result := g.Classify(context.Background(), "Weekly digest", "news@example.com", "Top stories")
	assert.Equal(t, models.CategoryNotImportant, result.Category)
	assert.Equal(t, models.ActionArchive, result.Action)
	assert.Equal(t, "Newsletter", result.Summary)
}

func TestClassifyFallback(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(`{"error":{"code":500,"message":"internal","status":"INTERNAL"}}`))
			},
		},
		{
			name: "prose instead of json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(candidate("This looks like an interview invitation."))
			},
		},
		{
			name: "schema violation",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(candidate(`{"category":"urgent","action":"reply","confidence":0.9}`))
			},
		},
		{
			name: "no candidates",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"candidates":[],"promptFeedback":{"blockReason":"SAFETY"}}`))
			},
		},
		{
			name: "timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(5 * time.Second):
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGemini(t, tt.handler)
			g.httpClient.Timeout = 200 * time.Millisecond

			result := g.Classify(context.Background(), "subject", "from@example.com", "body")
			assert.Equal(t, models.FallbackClassification(), result)
			assert.Equal(t, models.FallbackSummary, result.Summary)
			assert.False(t, result.ReplyTemplate.ShouldReply)
			assert.Nil(t, result.CalendarEvent)
		})
	}
}
