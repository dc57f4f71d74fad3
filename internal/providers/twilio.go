package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"voicemetrics/internal/calls"
	"voicemetrics/pkg/utils"
)

const (
	twilioAPIVersion   = "2010-04-01"
	twilioPageSize     = 1000
	twilioTimeLayout   = time.RFC1123Z
	twilioDateLayout   = "2006-01-02"
	defaultPageCeiling = 50
)

// TwilioConfig configures the telephony adapter.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	BaseURL    string // override for tests; default https://api.twilio.com

	// PageCeiling caps pages per fetch as a runaway guard. Zero means the
	// default ceiling, not unlimited.
	PageCeiling int
	Retry       utils.RetryConfig
	Timeout     time.Duration
}

// TwilioClient fetches call logs over the provider's paginated REST API.
type TwilioClient struct {
	cfg  TwilioConfig
	http *http.Client
	log  *slog.Logger
}

func NewTwilioClient(cfg TwilioConfig, log *slog.Logger) *TwilioClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.twilio.com"
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
	return &TwilioClient{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log,
	}
}

type twilioCallPayload struct {
	Sid       string `json:"sid"`
	From      string `json:"from"`
	To        string `json:"to"`
	Duration  string `json:"duration"`
	Status    string `json:"status"`
	Direction string `json:"direction"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Price     string `json:"price"`
	PriceUnit string `json:"price_unit"`
}

type twilioCallsPage struct {
	Calls       []twilioCallPayload `json:"calls"`
	NextPageURI string              `json:"next_page_uri"`
}

// FetchCalls walks the call log pages for the window. Each page fetch retries
// transient failures; a page that still fails aborts the fetch so the window
// can be retried whole next run.
func (c *TwilioClient) FetchCalls(ctx context.Context, since time.Time) ([]calls.RawRecord, FetchStats, error) {
	var (
		out   []calls.RawRecord
		stats FetchStats
	)

	q := url.Values{}
	q.Set("PageSize", strconv.Itoa(twilioPageSize))
	q.Set("StartTime>", since.UTC().Format(twilioDateLayout))
	pageURL := fmt.Sprintf("%s/%s/Accounts/%s/Calls.json?%s",
		c.cfg.BaseURL, twilioAPIVersion, c.cfg.AccountSID, q.Encode())

	for pageURL != "" {
		if stats.Pages >= c.cfg.PageCeiling {
			c.log.Warn("page ceiling reached, truncating fetch",
				"pages", stats.Pages, "ceiling", c.cfg.PageCeiling)
			break
		}

		page, err := c.fetchPage(ctx, pageURL, &stats)
		if err != nil {
			return nil, stats, fmt.Errorf("twilio: fetch page %d: %w", stats.Pages+1, err)
		}
		stats.Pages++

		for _, raw := range page.Calls {
			rec, err := normalizeTwilioCall(raw)
			if err != nil {
				// Malformed records are skipped, never fatal.
				c.log.Warn("skipping malformed call record", "sid", raw.Sid, "err", err)
				stats.Skipped++
				continue
			}
			// The date-granular StartTime filter over-fetches; trim to the
			// exact window here.
			if rec.StartTime != nil && rec.StartTime.Before(since) {
				continue
			}
			out = append(out, rec)
		}

		if page.NextPageURI == "" {
			break
		}
		pageURL = c.cfg.BaseURL + page.NextPageURI
	}

	return out, stats, nil
}

func (c *TwilioClient) fetchPage(ctx context.Context, pageURL string, stats *FetchStats) (*twilioCallsPage, error) {
	var page twilioCallsPage
	err := utils.Retry(ctx, c.cfg.Retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			return utils.Permanent(err)
		}
		req.SetBasicAuth(c.cfg.AccountSID, c.cfg.AuthToken)

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			stats.RateLimited++
			return fmt.Errorf("rate limited (status %d)", resp.StatusCode)
		case resp.StatusCode >= 500:
			return fmt.Errorf("upstream error (status %d)", resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return utils.Permanent(fmt.Errorf("status %d: %s", resp.StatusCode, body))
		}

		page = twilioCallsPage{}
		if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
			return fmt.Errorf("decode page: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &page, nil
}

func normalizeTwilioCall(raw twilioCallPayload) (calls.RawRecord, error) {
	if raw.Sid == "" {
		return calls.RawRecord{}, fmt.Errorf("record without sid")
	}

	duration := 0
	if raw.Duration != "" {
		n, err := strconv.Atoi(raw.Duration)
		if err == nil {
			duration = n
		}
	}

	// Prices come signed (charges are negative); the ledger stores magnitude.
	cost := 0.0
	if raw.Price != "" {
		if p, err := strconv.ParseFloat(raw.Price, 64); err == nil {
			cost = math.Abs(p)
		}
	}

	rec := calls.RawRecord{
		ExternalID:      raw.Sid,
		From:            raw.From,
		To:              raw.To,
		DurationSeconds: duration,
		Cost:            cost,
		Status:          raw.Status,
		Direction:       calls.ParseDirection(raw.Direction),
	}
	if t, err := time.Parse(twilioTimeLayout, raw.StartTime); err == nil {
		rec.StartTime = &t
	}
	if t, err := time.Parse(twilioTimeLayout, raw.EndTime); err == nil {
		rec.EndTime = &t
	}

	payload, err := json.Marshal(raw)
	if err != nil {
		return calls.RawRecord{}, fmt.Errorf("marshal raw payload: %w", err)
	}
	rec.Raw = payload
	return rec, nil
}
