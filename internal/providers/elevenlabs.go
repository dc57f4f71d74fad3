package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"voicemetrics/internal/calls"
	"voicemetrics/pkg/utils"
)

const (
	elevenLabsPageSize      = 100
	defaultDetailBatchSize  = 3
	maxDetailBatchSize      = 5
	defaultInterBatchPause  = time.Second
	elevenLabsDetailTimeout = 10 * time.Second
)

// ElevenLabsConfig configures the conversational-AI adapter.
type ElevenLabsConfig struct {
	APIKey  string
	BaseURL string // override for tests; default https://api.elevenlabs.io

	// DetailBatchSize bounds concurrent detail fetches; the API tolerates
	// small bursts only, so values above maxDetailBatchSize are clamped.
	DetailBatchSize int
	InterBatchPause time.Duration

	// PageCeiling caps list pages per fetch as a runaway guard. Zero means
	// the default ceiling, not unlimited.
	PageCeiling int
	Retry       utils.RetryConfig
	Timeout     time.Duration
}

// ElevenLabsClient fetches conversations via cursor-paginated listing plus a
// per-conversation detail call carrying the charge breakdown.
type ElevenLabsClient struct {
	cfg  ElevenLabsConfig
	http *http.Client
	log  *slog.Logger
}

func NewElevenLabsClient(cfg ElevenLabsConfig, log *slog.Logger) *ElevenLabsClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.elevenlabs.io"
	}
	if cfg.DetailBatchSize <= 0 {
		cfg.DetailBatchSize = defaultDetailBatchSize
	}
	if cfg.DetailBatchSize > maxDetailBatchSize {
		cfg.DetailBatchSize = maxDetailBatchSize
	}
	if cfg.InterBatchPause <= 0 {
		cfg.InterBatchPause = defaultInterBatchPause
	}
	if cfg.PageCeiling <= 0 {
		cfg.PageCeiling = defaultPageCeiling
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &ElevenLabsClient{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log,
	}
}

type elevenLabsListEntry struct {
	ConversationID    string `json:"conversation_id"`
	StartTimeUnixSecs int64  `json:"start_time_unix_secs"`
}

type elevenLabsListPage struct {
	Conversations []elevenLabsListEntry `json:"conversations"`
	NextCursor    string                `json:"next_cursor"`
}

type elevenLabsCharging struct {
	DevDiscount            float64 `json:"dev_discount"`
	IsBurst                bool    `json:"is_burst"`
	LLMUsage               float64 `json:"llm_usage"`
	LLMPrice               float64 `json:"llm_price"`
	LLMCharge              float64 `json:"llm_charge"`
	CallCharge             float64 `json:"call_charge"`
	FreeMinutesConsumed    float64 `json:"free_minutes_consumed"`
	FreeLLMDollarsConsumed float64 `json:"free_llm_dollars_consumed"`
}

type elevenLabsPhoneCall struct {
	AgentNumber    string `json:"agent_number"`
	ExternalNumber string `json:"external_number"`
}

type elevenLabsMetadata struct {
	StartTimeUnixSecs int64               `json:"start_time_unix_secs"`
	CallDurationSecs  int                 `json:"call_duration_secs"`
	Cost              float64             `json:"cost"`
	Charging          elevenLabsCharging  `json:"charging"`
	PhoneCall         elevenLabsPhoneCall `json:"phone_call"`
}

type elevenLabsDetail struct {
	ConversationID string             `json:"conversation_id"`
	AgentID        string             `json:"agent_id"`
	Status         string             `json:"status"`
	Metadata       elevenLabsMetadata `json:"metadata"`
}

// FetchConversations lists conversations newer than `since`, then hydrates
// each with its detail payload in small concurrent batches. A detail fetch
// that fails after retries drops only that conversation.
func (c *ElevenLabsClient) FetchConversations(ctx context.Context, since time.Time) ([]calls.ConversationRecord, FetchStats, error) {
	var stats FetchStats
	var rateLimited atomic.Int64

	ids, err := c.listSince(ctx, since, &stats, &rateLimited)
	if err != nil {
		stats.RateLimited = int(rateLimited.Load())
		return nil, stats, err
	}

	out := make([]calls.ConversationRecord, 0, len(ids))
	for start := 0; start < len(ids); start += c.cfg.DetailBatchSize {
		end := min(start+c.cfg.DetailBatchSize, len(ids))
		batch := ids[start:end]

		details := make([]*elevenLabsDetail, len(batch))
		var wg sync.WaitGroup
		for i, id := range batch {
			wg.Add(1)
			go func(i int, id string) {
				defer wg.Done()
				d, err := c.fetchDetail(ctx, id, &rateLimited)
				if err != nil {
					c.log.Warn("conversation detail fetch failed, skipping",
						"conversation_id", id, "err", err)
					return
				}
				details[i] = d
			}(i, id)
		}
		wg.Wait()

		for _, d := range details {
			if d == nil {
				stats.Skipped++
				continue
			}
			out = append(out, normalizeConversation(d))
		}

		if end < len(ids) {
			select {
			case <-ctx.Done():
				stats.RateLimited = int(rateLimited.Load())
				return out, stats, ctx.Err()
			case <-time.After(c.cfg.InterBatchPause):
			}
		}
	}

	stats.RateLimited = int(rateLimited.Load())
	return out, stats, nil
}

// listSince pages the conversation index newest-first, stopping as soon as a
// page crosses the window boundary.
func (c *ElevenLabsClient) listSince(ctx context.Context, since time.Time, stats *FetchStats, rateLimited *atomic.Int64) ([]string, error) {
	sinceUnix := since.Unix()
	var ids []string
	cursor := ""

	for {
		if stats.Pages >= c.cfg.PageCeiling {
			c.log.Warn("page ceiling reached, truncating fetch",
				"pages", stats.Pages, "ceiling", c.cfg.PageCeiling)
			break
		}

		q := url.Values{}
		q.Set("page_size", strconv.Itoa(elevenLabsPageSize))
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		listURL := c.cfg.BaseURL + "/v1/convai/conversations?" + q.Encode()

		var page elevenLabsListPage
		if err := c.getJSON(ctx, listURL, &page, rateLimited); err != nil {
			return nil, fmt.Errorf("elevenlabs: list page %d: %w", stats.Pages+1, err)
		}
		stats.Pages++

		recent := 0
		for _, conv := range page.Conversations {
			if conv.StartTimeUnixSecs < sinceUnix {
				continue
			}
			recent++
			ids = append(ids, conv.ConversationID)
		}

		// An older record on this page means everything beyond it is older
		// still; no need to follow the cursor.
		if recent < len(page.Conversations) || page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	return ids, nil
}

func (c *ElevenLabsClient) fetchDetail(ctx context.Context, conversationID string, rateLimited *atomic.Int64) (*elevenLabsDetail, error) {
	detailCtx, cancel := context.WithTimeout(ctx, elevenLabsDetailTimeout)
	defer cancel()

	var detail elevenLabsDetail
	detailURL := c.cfg.BaseURL + "/v1/convai/conversations/" + url.PathEscape(conversationID)
	if err := c.getJSON(detailCtx, detailURL, &detail, rateLimited); err != nil {
		return nil, err
	}
	return &detail, nil
}

func (c *ElevenLabsClient) getJSON(ctx context.Context, rawURL string, dst any, rateLimited *atomic.Int64) error {
	return utils.Retry(ctx, c.cfg.Retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return utils.Permanent(err)
		}
		req.Header.Set("xi-api-key", c.cfg.APIKey)

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			rateLimited.Add(1)
			return fmt.Errorf("rate limited (status %d)", resp.StatusCode)
		case resp.StatusCode >= 500:
			return fmt.Errorf("upstream error (status %d)", resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return utils.Permanent(fmt.Errorf("status %d: %s", resp.StatusCode, body))
		}

		return json.NewDecoder(resp.Body).Decode(dst)
	})
}

func normalizeConversation(d *elevenLabsDetail) calls.ConversationRecord {
	rec := calls.ConversationRecord{
		ExternalID:      d.ConversationID,
		AgentID:         d.AgentID,
		AgentNumber:     d.Metadata.PhoneCall.AgentNumber,
		ExternalNumber:  d.Metadata.PhoneCall.ExternalNumber,
		Status:          d.Status,
		DurationSeconds: d.Metadata.CallDurationSecs,
		CostCredits:     d.Metadata.Cost,
		Charges: calls.ConversationCharges{
			DevDiscount:            d.Metadata.Charging.DevDiscount,
			IsBurst:                d.Metadata.Charging.IsBurst,
			LLMUsage:               d.Metadata.Charging.LLMUsage,
			LLMPrice:               d.Metadata.Charging.LLMPrice,
			LLMCharge:              d.Metadata.Charging.LLMCharge,
			CallCharge:             d.Metadata.Charging.CallCharge,
			FreeMinutesConsumed:    d.Metadata.Charging.FreeMinutesConsumed,
			FreeLLMDollarsConsumed: d.Metadata.Charging.FreeLLMDollarsConsumed,
		},
	}
	if d.Metadata.StartTimeUnixSecs > 0 {
		t := time.Unix(d.Metadata.StartTimeUnixSecs, 0).UTC()
		rec.StartTime = &t
	}
	if payload, err := json.Marshal(d); err == nil {
		rec.Raw = payload
	}
	return rec
}
