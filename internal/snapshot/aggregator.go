package snapshot

import (
	"sort"
	"time"

	"voicemetrics/internal/calls"
	"voicemetrics/pkg/money"
)

// Bucketer truncates a record timestamp to its rollup bucket.
// Buckets are always computed in UTC; never the local clock.
type Bucketer func(time.Time) time.Time

// HourBucketUTC zeroes the sub-hour components.
func HourBucketUTC(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// DayBucketUTC keeps only the date portion.
func DayBucketUTC(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type rollupKey struct {
	workspaceID int64
	bucket      time.Time
}

// RollupCalls groups attributed call records by (workspace, bucket) and sums
// counts, costs, durations and per-record billable minutes. Cost sums are
// rounded to 4 decimal places at this boundary. Output ordering is
// deterministic: workspace ascending, then bucket ascending.
func RollupCalls(records []calls.AttributedRecord, bucket Bucketer) []CallRollup {
	grouped := make(map[rollupKey]*CallRollup)

	for _, rec := range records {
		key := rollupKey{workspaceID: rec.WorkspaceID, bucket: bucket(rec.CallDate)}
		r, ok := grouped[key]
		if !ok {
			r = &CallRollup{WorkspaceID: key.workspaceID, BucketStart: key.bucket}
			grouped[key] = r
		}
		r.TotalCalls++
		r.TotalCost += rec.Cost
		r.TotalDurationSeconds += rec.DurationSeconds
		r.TotalBillableMinutes += calls.BillableMinutes(rec.DurationSeconds)
	}

	out := make([]CallRollup, 0, len(grouped))
	for _, r := range grouped {
		r.TotalCost = money.Round4(r.TotalCost)
		out = append(out, *r)
	}
	sortCallRollups(out)
	return out
}

// RollupConversations is the conversational-AI counterpart of RollupCalls,
// carrying the provider's charge breakdown through the merge.
func RollupConversations(convs []calls.AttributedConversation, bucket Bucketer) []ConversationRollup {
	grouped := make(map[rollupKey]*ConversationRollup)

	for _, conv := range convs {
		key := rollupKey{workspaceID: conv.WorkspaceID, bucket: bucket(conv.CallDate)}
		r, ok := grouped[key]
		if !ok {
			r = &ConversationRollup{WorkspaceID: key.workspaceID, BucketStart: key.bucket}
			grouped[key] = r
		}
		r.TotalConversations++
		r.TotalCostCredits += conv.CostCredits
		r.TotalDurationSeconds += conv.DurationSeconds
		r.LLMPrice += conv.Charges.LLMPrice
		r.LLMCharge += conv.Charges.LLMCharge
		r.CallCharge += conv.Charges.CallCharge
		r.FreeMinutesConsumed += conv.Charges.FreeMinutesConsumed
		r.FreeLLMDollarsConsumed += conv.Charges.FreeLLMDollarsConsumed
		r.DevDiscount += conv.Charges.DevDiscount
	}

	out := make([]ConversationRollup, 0, len(grouped))
	for _, r := range grouped {
		r.TotalCostCredits = money.Round4(r.TotalCostCredits)
		r.LLMPrice = money.Round4(r.LLMPrice)
		r.LLMCharge = money.Round4(r.LLMCharge)
		r.CallCharge = money.Round4(r.CallCharge)
		r.FreeMinutesConsumed = money.Round4(r.FreeMinutesConsumed)
		r.FreeLLMDollarsConsumed = money.Round4(r.FreeLLMDollarsConsumed)
		r.DevDiscount = money.Round4(r.DevDiscount)
		out = append(out, *r)
	}
	sortConversationRollups(out)
	return out
}

func sortCallRollups(rows []CallRollup) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].WorkspaceID != rows[j].WorkspaceID {
			return rows[i].WorkspaceID < rows[j].WorkspaceID
		}
		return rows[i].BucketStart.Before(rows[j].BucketStart)
	})
}

func sortConversationRollups(rows []ConversationRollup) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].WorkspaceID != rows[j].WorkspaceID {
			return rows[i].WorkspaceID < rows[j].WorkspaceID
		}
		return rows[i].BucketStart.Before(rows[j].BucketStart)
	})
}
