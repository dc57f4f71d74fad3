package stats

import (
	"context"
	"errors"
	"sort"
	"time"

	"voicemetrics/internal/snapshot"
	"voicemetrics/pkg/money"
)

var ErrInvalidRequest = errors.New("stats: invalid request")

// historyLimit bounds the per-workspace history trail.
const historyLimit = 100

// Repository abstracts read access to the snapshot tables.
// Implementations must return rows ordered by bucket ascending for the list
// methods and bucket descending for the recent methods.
type Repository interface {
	ListCallRollups(ctx context.Context, f Filter) ([]snapshot.CallRollup, error)
	ListConversationRollups(ctx context.Context, f Filter) ([]snapshot.ConversationRollup, error)

	ListRecentCallRollups(ctx context.Context, workspaceID int64, limit int) ([]snapshot.CallRollup, error)
	ListRecentConversationRollups(ctx context.Context, workspaceID int64, limit int) ([]snapshot.ConversationRollup, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

// Combined sums both providers over the filter and builds the per-day chart
// series. An empty match is a zero-valued response, not an error.
func (s *Service) Combined(ctx context.Context, f Filter) (CombinedStats, error) {
	if s.repo == nil {
		return CombinedStats{}, errors.New("stats: repository not configured")
	}

	twilioRows, err := s.repo.ListCallRollups(ctx, f)
	if err != nil {
		return CombinedStats{}, err
	}
	elevenRows, err := s.repo.ListConversationRollups(ctx, f)
	if err != nil {
		return CombinedStats{}, err
	}

	out := CombinedStats{Chart: []ChartPoint{}}
	if len(twilioRows) == 0 && len(elevenRows) == 0 {
		return out, nil
	}

	for _, r := range twilioRows {
		out.TotalCalls += r.TotalCalls
		out.TwilioCost += r.TotalCost
		out.TotalMinutes += r.TotalBillableMinutes
	}
	for _, r := range elevenRows {
		out.ElevenLabsCredits += r.TotalCostCredits
	}
	out.ElevenLabsCostUSD = money.CreditsToUSD(out.ElevenLabsCredits)

	out.TwilioCost = money.Round2(out.TwilioCost)
	out.ElevenLabsCredits = money.Round2(out.ElevenLabsCredits)
	out.TotalCost = money.Round2(out.TwilioCost + out.ElevenLabsCostUSD)
	out.Chart = buildChart(twilioRows, elevenRows)
	return out, nil
}

// Twilio reports telephony-only totals over the filter.
func (s *Service) Twilio(ctx context.Context, f Filter) (TwilioStats, error) {
	if s.repo == nil {
		return TwilioStats{}, errors.New("stats: repository not configured")
	}
	rows, err := s.repo.ListCallRollups(ctx, f)
	if err != nil {
		return TwilioStats{}, err
	}
	out := TwilioStats{Snapshots: len(rows)}
	for _, r := range rows {
		out.TotalCalls += r.TotalCalls
		out.TotalCost += r.TotalCost
		out.TotalDurationSeconds += r.TotalDurationSeconds
		out.TotalBillableMinutes += r.TotalBillableMinutes
	}
	out.TotalCost = money.Round4(out.TotalCost)
	return out, nil
}

// ElevenLabs reports conversational-AI totals over the filter, converting
// credits to USD for the response.
func (s *Service) ElevenLabs(ctx context.Context, f Filter) (ElevenLabsStats, error) {
	if s.repo == nil {
		return ElevenLabsStats{}, errors.New("stats: repository not configured")
	}
	rows, err := s.repo.ListConversationRollups(ctx, f)
	if err != nil {
		return ElevenLabsStats{}, err
	}
	out := ElevenLabsStats{Snapshots: len(rows)}
	for _, r := range rows {
		out.TotalConversations += r.TotalConversations
		out.TotalCredits += r.TotalCostCredits
		out.TotalDurationSeconds += r.TotalDurationSeconds
	}
	out.TotalCostUSD = money.CreditsToUSD(out.TotalCredits)
	out.TotalCredits = money.Round4(out.TotalCredits)
	return out, nil
}

// WorkspaceHistory returns the newest snapshots for one workspace.
func (s *Service) WorkspaceHistory(ctx context.Context, workspaceID int64) (WorkspaceHistory, error) {
	if workspaceID <= 0 {
		return WorkspaceHistory{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return WorkspaceHistory{}, errors.New("stats: repository not configured")
	}

	callRows, err := s.repo.ListRecentCallRollups(ctx, workspaceID, historyLimit)
	if err != nil {
		return WorkspaceHistory{}, err
	}
	convRows, err := s.repo.ListRecentConversationRollups(ctx, workspaceID, historyLimit)
	if err != nil {
		return WorkspaceHistory{}, err
	}
	if callRows == nil {
		callRows = []snapshot.CallRollup{}
	}
	if convRows == nil {
		convRows = []snapshot.ConversationRollup{}
	}
	return WorkspaceHistory{WorkspaceID: workspaceID, Calls: callRows, Conversations: convRows}, nil
}

const chartDateLayout = "2006-01-02"

func buildChart(twilioRows []snapshot.CallRollup, elevenRows []snapshot.ConversationRollup) []ChartPoint {
	byDay := make(map[string]*ChartPoint)

	point := func(day string) *ChartPoint {
		p, ok := byDay[day]
		if !ok {
			p = &ChartPoint{Date: day}
			byDay[day] = p
		}
		return p
	}

	for _, r := range twilioRows {
		p := point(r.BucketStart.UTC().Format(chartDateLayout))
		p.Calls += r.TotalCalls
		p.Cost += r.TotalCost
		p.Minutes += r.TotalBillableMinutes
	}
	for _, r := range elevenRows {
		p := point(r.BucketStart.UTC().Format(chartDateLayout))
		p.Cost += money.CreditsToUSD(r.TotalCostCredits)
	}

	out := make([]ChartPoint, 0, len(byDay))
	for _, p := range byDay {
		p.Cost = money.Round4(p.Cost)
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// ParseDateFilter builds a Filter from optional ISO dates and a workspace
// value. Malformed dates mean "no filter", never an error; "all" or empty
// workspace means every workspace. The end date is extended to the end of its
// day so the range is inclusive.
func ParseDateFilter(startDate, endDate string, workspaceID int64) Filter {
	f := Filter{WorkspaceID: workspaceID}
	if startDate == "" || endDate == "" {
		return f
	}
	start, err := time.ParseInLocation(chartDateLayout, startDate, time.UTC)
	if err != nil {
		return f
	}
	end, err := time.ParseInLocation(chartDateLayout, endDate, time.UTC)
	if err != nil {
		return f
	}
	end = end.Add(24*time.Hour - time.Nanosecond)
	f.Start = &start
	f.End = &end
	return f
}
