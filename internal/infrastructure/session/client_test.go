package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FeedGuard/internal/domain"
)

func TestClientRoundTrip(t *testing.T) {
	var heartbeats int
	var logged []domain.Impression

	mux := http.NewServeMux()
	mux.HandleFunc("/session", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		_, _ = w.Write([]byte(`{"id":"s1","phase":"wind-down","settings":{"mode":"active","reorderFeed":true,"revealDelayMs":800}}`))
	})
	mux.HandleFunc("/threshold", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("phase") == "wind-down" {
			_, _ = w.Write([]byte(`{"threshold":40}`))
			return
		}
		_, _ = w.Write([]byte(`{"threshold":null}`))
	})
	mux.HandleFunc("/schedule", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			IDs    []string           `json:"ids"`
			Scores map[string]float64 `json:"scores"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"a", "b"}, req.IDs)
		assert.Equal(t, 90.0, req.Scores["a"])
		_, _ = w.Write([]byte(`{"orderedIds":["b"],"hiddenIds":["a"]}`))
	})
	mux.HandleFunc("/impressions", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Impressions []domain.Impression `json:"impressions"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		logged = req.Impressions
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		heartbeats++
		w.WriteHeader(http.StatusNoContent)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(server.URL)
	ctx := context.Background()

	session, err := client.GetSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, domain.PhaseWindDown, session.Phase)
	assert.Equal(t, int64(800), session.Settings.RevealDelayMS)

	threshold, err := client.GetEffectiveThreshold(ctx, session.Phase)
	require.NoError(t, err)
	require.NotNil(t, threshold)
	assert.Equal(t, 40.0, *threshold)

	missing, err := client.GetEffectiveThreshold(ctx, domain.PhaseMinimal)
	require.NoError(t, err)
	assert.Nil(t, missing)

	order, err := client.GetScheduledOrder(ctx, []string{"a", "b"}, map[string]float64{"a": 90, "b": 10})
	require.NoError(t, err)
	assert.Equal(t, &domain.ScheduledOrder{OrderedIDs: []string{"b"}, HiddenIDs: []string{"a"}}, order)

	require.NoError(t, client.LogImpressions(ctx, []domain.Impression{{PostID: "b", Bucket: domain.BucketLow}}))
	require.Len(t, logged, 1)
	assert.Equal(t, "b", logged[0].PostID)

	require.NoError(t, client.Heartbeat(ctx))
	assert.Equal(t, 1, heartbeats)
}

func TestClientEmptyResponsesMeanNothingToSay(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/session" {
			_, _ = w.Write([]byte(`null`))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	session, err := client.GetSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, session)

	order, err := client.GetScheduledOrder(context.Background(), []string{"a"}, nil)
	require.NoError(t, err)
	assert.Nil(t, order)
}

func TestClientStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer server.Close()

	err := NewClient(server.URL).Heartbeat(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
