package dirsync

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// defaultBatchSize is the provider-typical chunk size for batch calls.
const defaultBatchSize = 20

type batchSubRequest struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	URL    string `json:"url"`
}

type batchEnvelope struct {
	Requests []batchSubRequest `json:"requests"`
}

type batchSubResponse struct {
	ID     string          `json:"id"`
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

type batchResponseEnvelope struct {
	Responses []batchSubResponse `json:"responses"`
}

// Resolver hydrates bare principal IDs through a provider batch
// endpoint. IDs are chunked, each chunk is one POST carrying
// correlation-tagged sub-requests, and sub-responses are mapped back by
// correlation ID.
type Resolver struct {
	// Client issues the batch calls; nil selects http.DefaultClient.
	Client *http.Client
	// Endpoint is the POST target of the batch API.
	Endpoint string
	// Decorate adds auth and accept headers to each batch request.
	Decorate func(req *http.Request)
	// PathFor builds the sub-request path for one principal ID.
	PathFor func(id string) string
	// ChunkSize bounds sub-requests per call; zero selects the default.
	ChunkSize int
}

// Resolve returns the response bodies of every ID that resolved, keyed
// by principal ID. A sub-response with a non-2xx status is dropped from
// the result set and logged; a chunk where every sub-response failed
// aborts with ErrBatchFailed.
func (r *Resolver) Resolve(ctx context.Context, ids []string) (map[string]json.RawMessage, error) {
	chunkSize := r.ChunkSize
	if chunkSize == 0 {
		chunkSize = defaultBatchSize
	}

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}

	resolved := make(map[string]json.RawMessage, len(ids))

	for start := 0; start < len(ids); start += chunkSize {
		end := start + chunkSize
		if end > len(ids) {
			end = len(ids)
		}

		if err := r.resolveChunk(ctx, client, ids[start:end], resolved); err != nil {
			return nil, err
		}
	}

	return resolved, nil
}

// resolveChunk issues one batch call and folds its sub-responses into
// the result map.
func (r *Resolver) resolveChunk(
	ctx context.Context,
	client *http.Client,
	ids []string,
	resolved map[string]json.RawMessage,
) error {
	envelope := batchEnvelope{Requests: make([]batchSubRequest, 0, len(ids))}
	byCorrelation := make(map[string]string, len(ids))

	// correlation IDs are 1-based decimal strings, unique per call
	for i, id := range ids {
		correlationID := strconv.Itoa(i + 1)
		byCorrelation[correlationID] = id
		envelope.Requests = append(envelope.Requests, batchSubRequest{
			ID:     correlationID,
			Method: http.MethodGet,
			URL:    r.PathFor(id),
		})
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		return errors.Wrap(err, "failed to encode batch request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "failed to build batch request")
	}

	req.Header.Set("Content-Type", "application/json")

	if r.Decorate != nil {
		r.Decorate(req)
	}

	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrap(err, "batch request failed")
	}

	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	if err != nil {
		return errors.Wrap(err, "failed to read batch response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPError{Status: resp.StatusCode, URL: r.Endpoint, Body: string(body)}
	}

	var decoded batchResponseEnvelope
	if err := json.Unmarshal(body, &decoded); err != nil {
		return errors.Wrap(err, "failed to decode batch response")
	}

	failed := 0

	for _, sub := range decoded.Responses {
		id, ok := byCorrelation[sub.ID]
		if !ok {
			log.Warn().Str("correlation_id", sub.ID).Msg("batch sub-response with unknown correlation id")
			continue
		}

		if sub.Status < 200 || sub.Status > 299 {
			failed++

			log.Warn().
				Str("principal_id", id).
				Int("status", sub.Status).
				Msg("dropping failed batch sub-response")

			continue
		}

		resolved[id] = sub.Body
	}

	// 100% sub-failure signals a systemic problem, e.g. a revoked token
	if len(decoded.Responses) > 0 && failed == len(decoded.Responses) {
		return errors.Wrap(ErrBatchFailed, "batch endpoint "+r.Endpoint)
	}

	return nil
}
