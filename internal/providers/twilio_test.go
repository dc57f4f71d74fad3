package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicemetrics/internal/calls"
	"voicemetrics/pkg/utils"
)

func fastRetry() utils.RetryConfig {
	return utils.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func twilioCallJSON(sid, from, to, direction, duration, price, start, end string) string {
	return fmt.Sprintf(`{
		"sid": %q, "from": %q, "to": %q, "direction": %q,
		"duration": %q, "price": %q, "status": "completed",
		"start_time": %q, "end_time": %q, "price_unit": "USD"
	}`, sid, from, to, direction, duration, price, start, end)
}

func TestTwilioFetchCallsPaginates(t *testing.T) {
	var gotAuthSID, gotAuthToken string
	mux := http.NewServeMux()
	mux.HandleFunc("/2010-04-01/Accounts/AC123/Calls.json", func(w http.ResponseWriter, r *http.Request) {
		gotAuthSID, gotAuthToken, _ = r.BasicAuth()
		if r.URL.Query().Get("Page") == "1" {
			fmt.Fprintf(w, `{"calls": [%s], "next_page_uri": ""}`,
				twilioCallJSON("CA2", "+15550002", "+15559999", "outbound-api", "61", "-0.015",
					"Mon, 02 Jun 2025 10:05:00 +0000", "Mon, 02 Jun 2025 10:06:01 +0000"))
			return
		}
		fmt.Fprintf(w, `{"calls": [%s], "next_page_uri": "/2010-04-01/Accounts/AC123/Calls.json?Page=1"}`,
			twilioCallJSON("CA1", "+15550001", "+15559999", "outbound-api", "60", "-0.01",
				"Mon, 02 Jun 2025 10:00:00 +0000", "Mon, 02 Jun 2025 10:01:00 +0000"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewTwilioClient(TwilioConfig{
		AccountSID: "AC123",
		AuthToken:  "secret",
		BaseURL:    srv.URL,
		Retry:      fastRetry(),
	}, nil)

	since := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	recs, stats, err := client.FetchCalls(context.Background(), since)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, 2, stats.Pages)
	assert.Equal(t, "AC123", gotAuthSID)
	assert.Equal(t, "secret", gotAuthToken)

	first := recs[0]
	assert.Equal(t, "CA1", first.ExternalID)
	assert.Equal(t, calls.DirectionOutboundAttributable, first.Direction)
	assert.Equal(t, 60, first.DurationSeconds)
	// Negative provider prices are stored as magnitudes.
	assert.InDelta(t, 0.01, first.Cost, 1e-9)
	require.NotNil(t, first.EndTime)
	assert.Equal(t, time.Date(2025, 6, 2, 10, 1, 0, 0, time.UTC), first.EndTime.UTC())
}

func TestTwilioFetchCallsTrimsRecordsBeforeWindow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"calls": [%s, %s], "next_page_uri": ""}`,
			twilioCallJSON("CA_old", "+1", "+2", "outbound-api", "10", "-0.01",
				"Mon, 02 Jun 2025 01:00:00 +0000", "Mon, 02 Jun 2025 01:00:10 +0000"),
			twilioCallJSON("CA_new", "+1", "+2", "outbound-api", "10", "-0.01",
				"Mon, 02 Jun 2025 12:00:00 +0000", "Mon, 02 Jun 2025 12:00:10 +0000"))
	}))
	defer srv.Close()

	client := NewTwilioClient(TwilioConfig{AccountSID: "AC1", BaseURL: srv.URL, Retry: fastRetry()}, nil)
	recs, _, err := client.FetchCalls(context.Background(), time.Date(2025, 6, 2, 6, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "CA_new", recs[0].ExternalID)
}

func TestTwilioFetchCallsRetriesRateLimit(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"calls": [], "next_page_uri": ""}`)
	}))
	defer srv.Close()

	client := NewTwilioClient(TwilioConfig{AccountSID: "AC1", BaseURL: srv.URL, Retry: fastRetry()}, nil)
	_, stats, err := client.FetchCalls(context.Background(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, 1, stats.RateLimited)
}

func TestTwilioFetchCallsAuthFailureIsPermanent(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewTwilioClient(TwilioConfig{AccountSID: "AC1", BaseURL: srv.URL, Retry: fastRetry()}, nil)
	_, _, err := client.FetchCalls(context.Background(), time.Now().Add(-time.Hour))
	require.Error(t, err)
	assert.Equal(t, 1, attempts, "4xx responses must not be retried")
}

func TestTwilioFetchCallsPageCeiling(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Always claims another page exists.
		fmt.Fprint(w, `{"calls": [], "next_page_uri": "/2010-04-01/Accounts/AC1/Calls.json?Page=next"}`)
	}))
	defer srv.Close()

	client := NewTwilioClient(TwilioConfig{
		AccountSID:  "AC1",
		BaseURL:     srv.URL,
		PageCeiling: 3,
		Retry:       fastRetry(),
	}, nil)
	_, stats, err := client.FetchCalls(context.Background(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Pages)
}

func TestNormalizeTwilioCallDefaults(t *testing.T) {
	rec, err := normalizeTwilioCall(twilioCallPayload{
		Sid:       "CA1",
		Direction: "inbound",
	})
	require.NoError(t, err)
	assert.Equal(t, calls.DirectionUnclassified, rec.Direction)
	assert.Zero(t, rec.DurationSeconds)
	assert.Zero(t, rec.Cost)
	assert.Nil(t, rec.StartTime)
	assert.Nil(t, rec.EndTime)

	_, err = normalizeTwilioCall(twilioCallPayload{})
	require.Error(t, err, "records without a sid have no idempotency key")
}
