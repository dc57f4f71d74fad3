package stats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicemetrics/internal/snapshot"
)

type fakeRepo struct {
	calls []snapshot.CallRollup
	convs []snapshot.ConversationRollup
}

func (r *fakeRepo) filterCalls(f Filter) []snapshot.CallRollup {
	out := []snapshot.CallRollup{}
	for _, c := range r.calls {
		if matches(c.WorkspaceID, c.BucketStart, f) {
			out = append(out, c)
		}
	}
	return out
}

func (r *fakeRepo) filterConvs(f Filter) []snapshot.ConversationRollup {
	out := []snapshot.ConversationRollup{}
	for _, c := range r.convs {
		if matches(c.WorkspaceID, c.BucketStart, f) {
			out = append(out, c)
		}
	}
	return out
}

func matches(ws int64, bucket time.Time, f Filter) bool {
	if f.WorkspaceID != 0 && ws != f.WorkspaceID {
		return false
	}
	if f.Start != nil && bucket.Before(*f.Start) {
		return false
	}
	if f.End != nil && bucket.After(*f.End) {
		return false
	}
	return true
}

func (r *fakeRepo) ListCallRollups(ctx context.Context, f Filter) ([]snapshot.CallRollup, error) {
	return r.filterCalls(f), nil
}

func (r *fakeRepo) ListConversationRollups(ctx context.Context, f Filter) ([]snapshot.ConversationRollup, error) {
	return r.filterConvs(f), nil
}

func (r *fakeRepo) ListRecentCallRollups(ctx context.Context, ws int64, limit int) ([]snapshot.CallRollup, error) {
	rows := r.filterCalls(Filter{WorkspaceID: ws})
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (r *fakeRepo) ListRecentConversationRollups(ctx context.Context, ws int64, limit int) ([]snapshot.ConversationRollup, error) {
	rows := r.filterConvs(Filter{WorkspaceID: ws})
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func seedRepo() *fakeRepo {
	return &fakeRepo{
		calls: []snapshot.CallRollup{
			{WorkspaceID: 1, BucketStart: day(2025, 8, 1), TotalCalls: 10, TotalCost: 1.5, TotalBillableMinutes: 20},
			{WorkspaceID: 1, BucketStart: day(2025, 8, 3), TotalCalls: 5, TotalCost: 0.5, TotalBillableMinutes: 8},
			{WorkspaceID: 2, BucketStart: day(2025, 8, 7), TotalCalls: 2, TotalCost: 0.25, TotalBillableMinutes: 4},
			{WorkspaceID: 1, BucketStart: day(2025, 8, 10), TotalCalls: 100, TotalCost: 9.0, TotalBillableMinutes: 300},
		},
		convs: []snapshot.ConversationRollup{
			{WorkspaceID: 1, BucketStart: day(2025, 8, 3), TotalConversations: 4, TotalCostCredits: 1000},
			{WorkspaceID: 2, BucketStart: day(2025, 8, 7), TotalConversations: 1, TotalCostCredits: 500},
		},
	}
}

func TestCombinedRangeFilterInclusive(t *testing.T) {
	svc := NewService(seedRepo())

	f := ParseDateFilter("2025-08-01", "2025-08-07", 0)
	out, err := svc.Combined(context.Background(), f)
	require.NoError(t, err)

	// Aug 1 through Aug 7 inclusive: the Aug 10 row is out of range, the
	// boundary rows on Aug 1 and Aug 7 are in.
	assert.Equal(t, 17, out.TotalCalls)
	assert.Equal(t, 32, out.TotalMinutes)
	assert.InDelta(t, 2.25, out.TwilioCost, 1e-9)
	assert.InDelta(t, 1500.0, out.ElevenLabsCredits, 1e-9)
}

func TestCombinedConvertsCreditsAtReadTime(t *testing.T) {
	svc := NewService(&fakeRepo{
		convs: []snapshot.ConversationRollup{
			{WorkspaceID: 1, BucketStart: day(2025, 8, 1), TotalCostCredits: 1000},
		},
	})

	out, err := svc.Combined(context.Background(), Filter{})
	require.NoError(t, err)
	// 1000 credits * 0.00007525404654
	assert.InDelta(t, 0.07525404654, out.ElevenLabsCostUSD, 1e-11)
	assert.InDelta(t, 1000.0, out.ElevenLabsCredits, 1e-9)
}

func TestCombinedEmptyMatchIsZeroResponse(t *testing.T) {
	svc := NewService(&fakeRepo{})
	out, err := svc.Combined(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Zero(t, out.TotalCalls)
	assert.Zero(t, out.TotalCost)
	require.NotNil(t, out.Chart, "chart must serialize as [] not null")
	assert.Empty(t, out.Chart)
}

func TestCombinedChartOrderedByDay(t *testing.T) {
	svc := NewService(seedRepo())
	out, err := svc.Combined(context.Background(), Filter{})
	require.NoError(t, err)

	require.Len(t, out.Chart, 4)
	wantDates := []string{"2025-08-01", "2025-08-03", "2025-08-07", "2025-08-10"}
	for i, p := range out.Chart {
		assert.Equal(t, wantDates[i], p.Date)
	}

	// Aug 7 merges both providers: twilio cost plus converted credits.
	aug7 := out.Chart[2]
	assert.Equal(t, 2, aug7.Calls)
	assert.InDelta(t, 0.25+500*0.00007525404654, aug7.Cost, 1e-4)
}

func TestCombinedWorkspaceFilter(t *testing.T) {
	svc := NewService(seedRepo())
	out, err := svc.Combined(context.Background(), Filter{WorkspaceID: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, out.TotalCalls)
	assert.InDelta(t, 500.0, out.ElevenLabsCredits, 1e-9)
}

func TestTwilioStats(t *testing.T) {
	svc := NewService(seedRepo())
	out, err := svc.Twilio(context.Background(), Filter{WorkspaceID: 1})
	require.NoError(t, err)
	assert.Equal(t, 115, out.TotalCalls)
	assert.Equal(t, 3, out.Snapshots)
	assert.InDelta(t, 11.0, out.TotalCost, 1e-9)
}

func TestElevenLabsStats(t *testing.T) {
	svc := NewService(seedRepo())
	out, err := svc.ElevenLabs(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, 5, out.TotalConversations)
	assert.InDelta(t, 1500.0, out.TotalCredits, 1e-9)
	assert.InDelta(t, 1500*0.00007525404654, out.TotalCostUSD, 1e-9)
}

func TestWorkspaceHistory(t *testing.T) {
	svc := NewService(seedRepo())

	out, err := svc.WorkspaceHistory(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, out.Calls, 1)
	assert.Len(t, out.Conversations, 1)

	_, err = svc.WorkspaceHistory(context.Background(), 0)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	// Workspaces with no snapshots return empty slices, not nulls.
	out, err = svc.WorkspaceHistory(context.Background(), 99)
	require.NoError(t, err)
	assert.NotNil(t, out.Calls)
	assert.NotNil(t, out.Conversations)
}

func TestParseDateFilter(t *testing.T) {
	f := ParseDateFilter("2025-08-01", "2025-08-07", 3)
	require.NotNil(t, f.Start)
	require.NotNil(t, f.End)
	assert.Equal(t, day(2025, 8, 1), *f.Start)
	// End of day, so a bucket at Aug 7 23:00 is still inside.
	assert.True(t, f.End.After(day(2025, 8, 7).Add(23*time.Hour)))
	assert.True(t, f.End.Before(day(2025, 8, 8)))
	assert.Equal(t, int64(3), f.WorkspaceID)

	// Malformed or partial ranges fall back to no range filter.
	for _, pair := range [][2]string{
		{"not-a-date", "2025-08-07"},
		{"2025-08-01", "bogus"},
		{"", "2025-08-07"},
		{"2025-08-01", ""},
	} {
		f := ParseDateFilter(pair[0], pair[1], 0)
		assert.Nil(t, f.Start, "start for %v", pair)
		assert.Nil(t, f.End, "end for %v", pair)
	}
}
