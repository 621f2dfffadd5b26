package vision

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(url string) *Client {
	cfg := DefaultConfig()
	cfg.APIURL = url
	cfg.APIKey = "test-key"
	cfg.Timeout = 5 * time.Second
	return New(cfg)
}

func TestAnalyzeImageParsesClassification(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, DefaultModel, req["model"])

		content := `{"pole_type":"concreto","structures":["transformador","isolador"],"condition":"Atenção: desgaste visível","confidence":0.82,"analysis_summary":"Poste de concreto com desgaste"}`
		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]interface{}{"content": content}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	result, err := testClient(server.URL).AnalyzeImage(context.Background(), "aGVsbG8=")

	require.NoError(t, err)
	assert.Equal(t, "concreto", result.PoleType)
	assert.Equal(t, []string{"transformador", "isolador"}, result.Structures)
	assert.Equal(t, "Atenção: desgaste visível", result.Condition)
	assert.InDelta(t, 0.82, result.Confidence, 0.001)
}

func TestAnalyzeImageAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := testClient(server.URL).AnalyzeImage(context.Background(), "aGVsbG8=")

	assert.ErrorContains(t, err, "vision API error 429")
}

func TestAnalyzeImageMissingKey(t *testing.T) {
	cfg := DefaultConfig()
	client := New(cfg)

	_, err := client.AnalyzeImage(context.Background(), "aGVsbG8=")

	assert.ErrorContains(t, err, "API key")
}

func TestAnalyzeImageMalformedCompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]interface{}{"content": "not json at all"}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	_, err := testClient(server.URL).AnalyzeImage(context.Background(), "aGVsbG8=")

	assert.ErrorContains(t, err, "parse classification")
}
