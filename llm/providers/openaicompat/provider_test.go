package openaicompat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/questflow/llm"
	"github.com/BaSui01/questflow/types"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p, err := New(Config{Name: "test", BaseURL: srv.URL, APIKey: "k", Model: "m"}, nil)
	require.NoError(t, err)
	return p
}

func TestNew_MissingCredentialFailsFast(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Name: "x"}, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrMissingCredential, types.GetErrorCode(err))
	assert.False(t, types.IsRetryable(err), "configuration errors are never retried")
}

func TestCompletion_Success(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "cmpl_1", "model": "m",
			"choices": [{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"A wind rises."}}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 4, "total_tokens": 14}
		}`))
	})

	resp, err := p.Completion(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "go"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "A wind rises.", resp.Text())
	assert.Equal(t, 14, resp.Usage.TotalTokens)
	assert.Equal(t, "test", resp.Provider)
}

func TestCompletion_ErrorMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		status    int
		body      string
		wantCode  types.ErrorCode
		retryable bool
	}{
		{"unauthorized", 401, `{"error":{"message":"bad key"}}`, types.ErrUnauthorized, false},
		{"rate_limited", 429, `{"error":{"message":"slow down"}}`, types.ErrRateLimited, true},
		{"quota", 400, `{"error":{"message":"insufficient quota"}}`, types.ErrQuotaExceeded, false},
		{"bad_request", 400, `{"error":{"message":"bad temperature"}}`, types.ErrInvalidRequest, false},
		{"gateway_timeout", 504, `{"error":{"message":"upstream slow"}}`, types.ErrUpstreamTimeout, true},
		{"overloaded", 529, `{"error":{"message":"overloaded"}}`, types.ErrModelOverloaded, true},
		{"server_error", 500, `{"error":{"message":"boom"}}`, types.ErrUpstreamError, true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			_, err := p.Completion(context.Background(), &llm.ChatRequest{})
			require.Error(t, err)
			assert.Equal(t, tc.wantCode, types.GetErrorCode(err))
			assert.Equal(t, tc.retryable, types.IsRetryable(err))
		})
	}
}

func TestCompletion_MalformedResponse(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices": []}`))
	})
	_, err := p.Completion(context.Background(), &llm.ChatRequest{})
	require.Error(t, err)
	assert.Equal(t, types.ErrMalformedResponse, types.GetErrorCode(err))

	p = newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	})
	_, err = p.Completion(context.Background(), &llm.ChatRequest{})
	require.Error(t, err)
	assert.Equal(t, types.ErrMalformedResponse, types.GetErrorCode(err))
}
