// Package syncjob orchestrates the provider sync pipelines: fetch, attribute,
// persist the call ledger, and regenerate the affected snapshots.
package syncjob

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"voicemetrics/internal/attribution"
	"voicemetrics/internal/calls"
	"voicemetrics/internal/metrics"
	"voicemetrics/internal/providers"
	"voicemetrics/internal/snapshot"
	"voicemetrics/internal/storage"
)

const (
	// twilioHourlyWindow is deliberately the full day: the telephony API
	// filters by date only, and re-syncing already-seen records is free
	// because every write is an idempotent upsert.
	twilioHourlyWindow = 24 * time.Hour

	// elevenLabsHourlyWindow is one hour plus margin so a delayed cron tick
	// cannot open a gap between windows.
	elevenLabsHourlyWindow = 75 * time.Minute
)

// Summary reports one sync run.
type Summary struct {
	Job         string    `json:"job"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`

	Fetched       int                  `json:"fetched"`
	Pages         int                  `json:"pages"`
	RateLimited   int                  `json:"rate_limited"`
	SkippedFetch  int                  `json:"skipped_fetch"`
	Case1         int                  `json:"case1"`
	Case2         int                  `json:"case2"`
	Case3         int                  `json:"case3"`
	Unclassified  int                  `json:"unclassified"`
	CreatedPhones int                  `json:"created_phones"`
	Ledger        storage.BatchOutcome `json:"ledger"`
	Snapshots     storage.BatchOutcome `json:"snapshots"`
}

// Service runs the sync jobs. Both hourly jobs and the historical resyncs
// share one pipeline; they differ only in window and snapshot granularity.
type Service struct {
	twilio  providers.CallSource
	eleven  providers.ConversationSource
	store   storage.Store
	gateway *storage.Gateway
	metrics *metrics.Collector
	log     *slog.Logger
	clock   func() time.Time
}

func NewService(twilio providers.CallSource, eleven providers.ConversationSource,
	store storage.Store, gateway *storage.Gateway, collector *metrics.Collector, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		twilio:  twilio,
		eleven:  eleven,
		store:   store,
		gateway: gateway,
		metrics: collector,
		log:     log,
		clock:   time.Now,
	}
}

// WithClock overrides the window clock. Test hook.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// SyncTwilioHourly ingests the rolling 24h telephony window and rebuilds the
// hourly snapshots it touches.
func (s *Service) SyncTwilioHourly(ctx context.Context) (Summary, error) {
	now := s.clock()
	return s.syncTwilio(ctx, "twilio_hourly", now.Add(-twilioHourlyWindow), now, snapshot.HourBucketUTC)
}

// ResyncTwilioHistorical re-ingests the last `days` days and rebuilds daily
// snapshots. Safe to run repeatedly; every write overwrites.
func (s *Service) ResyncTwilioHistorical(ctx context.Context, days int) (Summary, error) {
	if days <= 0 {
		days = 1
	}
	now := s.clock()
	return s.syncTwilio(ctx, "twilio_historical", now.AddDate(0, 0, -days), now, snapshot.DayBucketUTC)
}

func (s *Service) syncTwilio(ctx context.Context, job string, since, until time.Time, bucket snapshot.Bucketer) (Summary, error) {
	sum := Summary{Job: job, WindowStart: since, WindowEnd: until}
	log := s.log.With("job", job)

	records, fetchStats, err := s.twilio.FetchCalls(ctx, since)
	if err != nil {
		s.metrics.JobRun(job, "fetch_error")
		return sum, fmt.Errorf("syncjob: %s: %w", job, err)
	}
	sum.Fetched = len(records)
	sum.Pages = fetchStats.Pages
	sum.RateLimited = fetchStats.RateLimited
	sum.SkippedFetch = fetchStats.Skipped
	s.metrics.RecordsFetched(string(calls.SourceTwilio), len(records))
	s.metrics.RateLimitHits(string(calls.SourceTwilio), fetchStats.RateLimited)

	if len(records) == 0 {
		log.Info("no records in window", "window_start", since, "window_end", until)
		s.metrics.JobRun(job, "ok")
		return sum, nil
	}

	dir, err := attribution.LoadDirectory(ctx, s.store)
	if err != nil {
		s.metrics.JobRun(job, "directory_error")
		return sum, fmt.Errorf("syncjob: %s: %w", job, err)
	}
	engine := attribution.NewEngine(dir, log).WithClock(s.clock)
	res := engine.Attribute(ctx, calls.SourceTwilio, records)
	sum.Case1 = res.Case1
	sum.Case2 = res.Case2
	sum.Case3 = res.Case3
	sum.Unclassified = res.Unclassified
	sum.CreatedPhones = res.CreatedPhones

	rows := make([]storage.CallRow, 0, len(res.Records))
	for _, rec := range res.Records {
		rows = append(rows, storage.CallRowFromRecord(rec))
	}
	sum.Ledger = s.gateway.UpsertCallRecords(ctx, rows)
	s.metrics.RecordsSaved(string(calls.SourceTwilio), sum.Ledger.Succeeded)
	s.metrics.RecordsFailed(string(calls.SourceTwilio), sum.Ledger.Failed)

	rollups := snapshot.RollupCalls(res.Records, bucket)
	sum.Snapshots = s.gateway.UpsertCallRollups(ctx, rollups)
	s.metrics.SnapshotUpserts(string(calls.SourceTwilio), sum.Snapshots.Succeeded)

	log.Info("sync complete",
		"fetched", sum.Fetched,
		"case1", sum.Case1, "case2", sum.Case2, "case3", sum.Case3,
		"unclassified", sum.Unclassified,
		"created_phones", sum.CreatedPhones,
		"ledger_saved", sum.Ledger.Succeeded, "ledger_failed", sum.Ledger.Failed,
		"snapshots", sum.Snapshots.Succeeded)
	s.metrics.JobRun(job, "ok")
	return sum, nil
}

// SyncElevenLabsHourly ingests the last 75 minutes of conversations and
// rebuilds the hourly snapshots they land in.
func (s *Service) SyncElevenLabsHourly(ctx context.Context) (Summary, error) {
	now := s.clock()
	return s.syncElevenLabs(ctx, "elevenlabs_hourly", now.Add(-elevenLabsHourlyWindow), now, snapshot.HourBucketUTC)
}

// ResyncElevenLabsHistorical re-ingests the last `days` days of conversations
// into daily snapshots.
func (s *Service) ResyncElevenLabsHistorical(ctx context.Context, days int) (Summary, error) {
	if days <= 0 {
		days = 1
	}
	now := s.clock()
	return s.syncElevenLabs(ctx, "elevenlabs_historical", now.AddDate(0, 0, -days), now, snapshot.DayBucketUTC)
}

func (s *Service) syncElevenLabs(ctx context.Context, job string, since, until time.Time, bucket snapshot.Bucketer) (Summary, error) {
	sum := Summary{Job: job, WindowStart: since, WindowEnd: until}
	log := s.log.With("job", job)

	records, fetchStats, err := s.eleven.FetchConversations(ctx, since)
	if err != nil {
		s.metrics.JobRun(job, "fetch_error")
		return sum, fmt.Errorf("syncjob: %s: %w", job, err)
	}
	sum.Fetched = len(records)
	sum.Pages = fetchStats.Pages
	sum.RateLimited = fetchStats.RateLimited
	sum.SkippedFetch = fetchStats.Skipped
	s.metrics.RecordsFetched(string(calls.SourceElevenLabs), len(records))
	s.metrics.RateLimitHits(string(calls.SourceElevenLabs), fetchStats.RateLimited)

	if len(records) == 0 {
		log.Info("no conversations in window", "window_start", since, "window_end", until)
		s.metrics.JobRun(job, "ok")
		return sum, nil
	}

	dir, err := attribution.LoadDirectory(ctx, s.store)
	if err != nil {
		s.metrics.JobRun(job, "directory_error")
		return sum, fmt.Errorf("syncjob: %s: %w", job, err)
	}
	engine := attribution.NewEngine(dir, log).WithClock(s.clock)
	attributed, created := engine.AttributeConversations(ctx, records)
	sum.CreatedPhones = created

	rows := make([]storage.CallRow, 0, len(attributed))
	for _, conv := range attributed {
		rows = append(rows, storage.CallRowFromConversation(conv))
	}
	sum.Ledger = s.gateway.UpsertCallRecords(ctx, rows)
	s.metrics.RecordsSaved(string(calls.SourceElevenLabs), sum.Ledger.Succeeded)
	s.metrics.RecordsFailed(string(calls.SourceElevenLabs), sum.Ledger.Failed)

	rollups := snapshot.RollupConversations(attributed, bucket)
	sum.Snapshots = s.gateway.UpsertConversationRollups(ctx, rollups)
	s.metrics.SnapshotUpserts(string(calls.SourceElevenLabs), sum.Snapshots.Succeeded)

	log.Info("sync complete",
		"fetched", sum.Fetched,
		"created_phones", sum.CreatedPhones,
		"ledger_saved", sum.Ledger.Succeeded, "ledger_failed", sum.Ledger.Failed,
		"snapshots", sum.Snapshots.Succeeded)
	s.metrics.JobRun(job, "ok")
	return sum, nil
}
