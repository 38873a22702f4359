package workersai_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cloudflare/cloudflare-go/v4"
	"github.com/cloudflare/cloudflare-go/v4/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/parley/pkg/adapters/workersai"
	"github.com/aretw0/parley/pkg/domain"
)

func newServer(t *testing.T, status int, body string, capture *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/accounts/acc/ai/run/@cf/meta/llama-3.3-70b-instruct-fp8-fast", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		if capture != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(capture))
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Complete(t *testing.T) {
	var got map[string]any
	srv := newServer(t, http.StatusOK, `{"result":{"response":"Hi!"},"success":true,"errors":[]}`, &got)

	client, err := workersai.New("acc", "tok", workersai.WithBaseURL(srv.URL))
	require.NoError(t, err)

	out, err := client.Complete(context.Background(), domain.Prompt{System: "Be concise.", User: "hello", MaxTokens: 120})
	require.NoError(t, err)
	assert.Equal(t, "Hi!", out.Response)

	assert.EqualValues(t, 120, got["max_tokens"])
	msgs := got["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, map[string]any{"role": "system", "content": "Be concise."}, msgs[0])
	assert.Equal(t, map[string]any{"role": "user", "content": "hello"}, msgs[1])
}

func TestClient_MissingResponseIsEmpty(t *testing.T) {
	srv := newServer(t, http.StatusOK, `{"result":{},"success":true}`, nil)
	client, err := workersai.New("acc", "tok", workersai.WithBaseURL(srv.URL))
	require.NoError(t, err)

	out, err := client.Complete(context.Background(), domain.Prompt{User: "x"})
	require.NoError(t, err)
	assert.Equal(t, "", out.Response)
}

func TestClient_Errors(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		srv := newServer(t, http.StatusTooManyRequests, `{"success":false,"errors":[{"code":429,"message":"rate limited"}]}`, nil)
		client, err := workersai.New("acc", "tok",
			workersai.WithBaseURL(srv.URL),
			workersai.WithRequestOptions(option.WithMaxRetries(0)),
		)
		require.NoError(t, err)

		_, err = client.Complete(context.Background(), domain.Prompt{User: "x"})
		assert.ErrorIs(t, err, domain.ErrInferenceUnavailable)

		var apiErr *cloudflare.Error
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	})

	t.Run("api error", func(t *testing.T) {
		srv := newServer(t, http.StatusOK, `{"success":false,"errors":[{"code":5007,"message":"no such model"}]}`, nil)
		client, err := workersai.New("acc", "tok", workersai.WithBaseURL(srv.URL))
		require.NoError(t, err)

		_, err = client.Complete(context.Background(), domain.Prompt{User: "x"})
		assert.ErrorIs(t, err, domain.ErrInferenceUnavailable)
		assert.Contains(t, err.Error(), "no such model")
	})

	t.Run("garbage", func(t *testing.T) {
		srv := newServer(t, http.StatusOK, `<html>`, nil)
		client, err := workersai.New("acc", "tok", workersai.WithBaseURL(srv.URL))
		require.NoError(t, err)

		_, err = client.Complete(context.Background(), domain.Prompt{User: "x"})
		assert.ErrorIs(t, err, domain.ErrInferenceUnavailable)
	})
}

func TestNew_Validation(t *testing.T) {
	_, err := workersai.New("", "tok")
	assert.Error(t, err)
	_, err = workersai.New("acc", " ")
	assert.Error(t, err)
}
