package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func elevenLabsServer(t *testing.T, entries []elevenLabsListEntry, details map[string]elevenLabsDetail) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var maxConcurrent, inFlight atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/convai/conversations", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "test-key", r.Header.Get("xi-api-key"))
		json.NewEncoder(w).Encode(elevenLabsListPage{Conversations: entries})
	})
	mux.HandleFunc("/v1/convai/conversations/", func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		for {
			cur := maxConcurrent.Load()
			if n <= cur || maxConcurrent.CompareAndSwap(cur, n) {
				break
			}
		}
		defer inFlight.Add(-1)

		id := strings.TrimPrefix(r.URL.Path, "/v1/convai/conversations/")
		detail, ok := details[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(detail)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &maxConcurrent
}

func convDetail(id, agentNumber string, startUnix int64, cost float64) elevenLabsDetail {
	return elevenLabsDetail{
		ConversationID: id,
		AgentID:        "agent_1",
		Status:         "done",
		Metadata: elevenLabsMetadata{
			StartTimeUnixSecs: startUnix,
			CallDurationSecs:  90,
			Cost:              cost,
			Charging:          elevenLabsCharging{LLMCharge: cost / 2, CallCharge: cost / 2},
			PhoneCall:         elevenLabsPhoneCall{AgentNumber: agentNumber, ExternalNumber: "+15559999"},
		},
	}
}

func newTestElevenLabsClient(baseURL string, batch int) *ElevenLabsClient {
	return NewElevenLabsClient(ElevenLabsConfig{
		APIKey:          "test-key",
		BaseURL:         baseURL,
		DetailBatchSize: batch,
		InterBatchPause: time.Millisecond,
		Retry:           fastRetry(),
	}, nil)
}

func TestElevenLabsFetchConversations(t *testing.T) {
	now := time.Now().UTC()
	start := now.Add(-10 * time.Minute).Unix()
	entries := []elevenLabsListEntry{
		{ConversationID: "conv_1", StartTimeUnixSecs: start},
		{ConversationID: "conv_2", StartTimeUnixSecs: start + 60},
	}
	details := map[string]elevenLabsDetail{
		"conv_1": convDetail("conv_1", "+15550001", start, 120),
		"conv_2": convDetail("conv_2", "+15550002", start+60, 80),
	}
	srv, _ := elevenLabsServer(t, entries, details)

	client := newTestElevenLabsClient(srv.URL, 3)
	recs, stats, err := client.FetchConversations(context.Background(), now.Add(-75*time.Minute))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, 1, stats.Pages)
	assert.Zero(t, stats.Skipped)

	byID := map[string]int{recs[0].ExternalID: 0, recs[1].ExternalID: 1}
	first := recs[byID["conv_1"]]
	assert.Equal(t, "+15550001", first.AgentNumber)
	assert.Equal(t, "+15559999", first.ExternalNumber)
	assert.Equal(t, 90, first.DurationSeconds)
	assert.InDelta(t, 120, first.CostCredits, 1e-9)
	assert.InDelta(t, 60, first.Charges.LLMCharge, 1e-9)
	require.NotNil(t, first.StartTime)
	assert.Equal(t, start, first.StartTime.Unix())
}

func TestElevenLabsFetchStopsAtWindowBoundary(t *testing.T) {
	now := time.Now().UTC()
	entries := []elevenLabsListEntry{
		{ConversationID: "conv_new", StartTimeUnixSecs: now.Add(-5 * time.Minute).Unix()},
		// Older than the window: the cursor must not be followed past it.
		{ConversationID: "conv_old", StartTimeUnixSecs: now.Add(-3 * time.Hour).Unix()},
	}
	details := map[string]elevenLabsDetail{
		"conv_new": convDetail("conv_new", "+15550001", now.Add(-5*time.Minute).Unix(), 10),
	}

	listCalls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/convai/conversations", func(w http.ResponseWriter, r *http.Request) {
		listCalls++
		json.NewEncoder(w).Encode(elevenLabsListPage{Conversations: entries, NextCursor: "cursor_1"})
	})
	mux.HandleFunc("/v1/convai/conversations/conv_new", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(details["conv_new"])
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := newTestElevenLabsClient(srv.URL, 3)
	recs, _, err := client.FetchConversations(context.Background(), now.Add(-75*time.Minute))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "conv_new", recs[0].ExternalID)
	assert.Equal(t, 1, listCalls, "cursor must stop once a page crosses the window")
}

func TestElevenLabsSkipsFailedDetails(t *testing.T) {
	now := time.Now().UTC()
	start := now.Add(-10 * time.Minute).Unix()
	entries := []elevenLabsListEntry{
		{ConversationID: "conv_ok", StartTimeUnixSecs: start},
		{ConversationID: "conv_gone", StartTimeUnixSecs: start},
	}
	details := map[string]elevenLabsDetail{
		"conv_ok": convDetail("conv_ok", "+15550001", start, 10),
	}
	srv, _ := elevenLabsServer(t, entries, details)

	client := newTestElevenLabsClient(srv.URL, 3)
	recs, stats, err := client.FetchConversations(context.Background(), now.Add(-75*time.Minute))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "conv_ok", recs[0].ExternalID)
	assert.Equal(t, 1, stats.Skipped)
}

func TestElevenLabsDetailConcurrencyBounded(t *testing.T) {
	now := time.Now().UTC()
	start := now.Add(-10 * time.Minute).Unix()
	var entries []elevenLabsListEntry
	details := map[string]elevenLabsDetail{}
	for i := 0; i < 9; i++ {
		id := fmt.Sprintf("conv_%d", i)
		entries = append(entries, elevenLabsListEntry{ConversationID: id, StartTimeUnixSecs: start})
		details[id] = convDetail(id, "+15550001", start, 1)
	}
	srv, maxConcurrent := elevenLabsServer(t, entries, details)

	client := newTestElevenLabsClient(srv.URL, 3)
	recs, _, err := client.FetchConversations(context.Background(), now.Add(-75*time.Minute))
	require.NoError(t, err)
	assert.Len(t, recs, 9)
	assert.LessOrEqual(t, maxConcurrent.Load(), int32(3))
}

func TestElevenLabsFetchPageCeiling(t *testing.T) {
	now := time.Now().UTC()
	inWindow := now.Add(-5 * time.Minute).Unix()

	pages := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/convai/conversations", func(w http.ResponseWriter, r *http.Request) {
		pages++
		// Always in-window and always claims another page exists.
		json.NewEncoder(w).Encode(elevenLabsListPage{
			Conversations: []elevenLabsListEntry{
				{ConversationID: fmt.Sprintf("conv_%d", pages), StartTimeUnixSecs: inWindow},
			},
			NextCursor: fmt.Sprintf("cursor_%d", pages),
		})
	})
	mux.HandleFunc("/v1/convai/conversations/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/v1/convai/conversations/")
		json.NewEncoder(w).Encode(convDetail(id, "+15550001", inWindow, 1))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewElevenLabsClient(ElevenLabsConfig{
		APIKey:          "test-key",
		BaseURL:         srv.URL,
		DetailBatchSize: 3,
		InterBatchPause: time.Millisecond,
		PageCeiling:     3,
		Retry:           fastRetry(),
	}, nil)
	recs, stats, err := client.FetchConversations(context.Background(), now.Add(-75*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Pages)
	assert.Len(t, recs, 3)
}

func TestElevenLabsBatchSizeClamped(t *testing.T) {
	client := NewElevenLabsClient(ElevenLabsConfig{APIKey: "k", DetailBatchSize: 50}, nil)
	assert.Equal(t, maxDetailBatchSize, client.cfg.DetailBatchSize)
}
