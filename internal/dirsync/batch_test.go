package dirsync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// batchTestServer answers batch envelopes, failing the sub-requests whose
// principal ID appears in failIDs.
func batchTestServer(t *testing.T, calls *int, failIDs map[string]int) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++

		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var envelope batchEnvelope
		require.NoError(t, json.NewDecoder(r.Body).Decode(&envelope))

		response := batchResponseEnvelope{}

		for _, sub := range envelope.Requests {
			id := sub.URL[len("/users/"):]

			if status, ok := failIDs[id]; ok {
				response.Responses = append(response.Responses, batchSubResponse{ID: sub.ID, Status: status})
				continue
			}

			response.Responses = append(response.Responses, batchSubResponse{
				ID:     sub.ID,
				Status: http.StatusOK,
				Body:   json.RawMessage(fmt.Sprintf(`{"id":%q}`, id)),
			})
		}

		require.NoError(t, json.NewEncoder(w).Encode(response))
	}))
}

func TestResolverDropsFailedSubResponses(t *testing.T) {
	t.Parallel()

	calls := 0
	server := batchTestServer(t, &calls, map[string]int{"u2": http.StatusNotFound})
	defer server.Close()

	resolver := &Resolver{
		Endpoint: server.URL + "/$batch",
		PathFor:  func(id string) string { return "/users/" + id },
	}

	resolved, err := resolver.Resolve(context.Background(), []string{"u1", "u2", "u3"})
	require.NoError(t, err)

	assert.Len(t, resolved, 2)
	assert.Contains(t, resolved, "u1")
	assert.Contains(t, resolved, "u3")
	assert.NotContains(t, resolved, "u2")
}

func TestResolverAllSubResponsesFailed(t *testing.T) {
	t.Parallel()

	calls := 0
	server := batchTestServer(t, &calls, map[string]int{
		"u1": http.StatusUnauthorized,
		"u2": http.StatusUnauthorized,
	})
	defer server.Close()

	resolver := &Resolver{
		Endpoint: server.URL + "/$batch",
		PathFor:  func(id string) string { return "/users/" + id },
	}

	_, err := resolver.Resolve(context.Background(), []string{"u1", "u2"})
	require.ErrorIs(t, err, ErrBatchFailed)
}

func TestResolverChunksRequests(t *testing.T) {
	t.Parallel()

	calls := 0
	server := batchTestServer(t, &calls, nil)
	defer server.Close()

	resolver := &Resolver{
		Endpoint:  server.URL + "/$batch",
		PathFor:   func(id string) string { return "/users/" + id },
		ChunkSize: 20,
	}

	ids := make([]string, 0, 45)
	for i := 0; i < 45; i++ {
		ids = append(ids, fmt.Sprintf("u%d", i))
	}

	resolved, err := resolver.Resolve(context.Background(), ids)
	require.NoError(t, err)

	assert.Len(t, resolved, 45)
	assert.Equal(t, 3, calls)
}

func TestResolverEnvelopeError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	resolver := &Resolver{
		Endpoint: server.URL + "/$batch",
		PathFor:  func(id string) string { return "/users/" + id },
	}

	_, err := resolver.Resolve(context.Background(), []string{"u1"})

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusTooManyRequests, httpErr.Status)
	assert.True(t, httpErr.Retryable())
}
