package stats

import (
	"time"

	"voicemetrics/internal/snapshot"
)

// Filter narrows snapshot queries. Zero values mean "no filter": a nil bound
// leaves that side of the range open, WorkspaceID 0 sums every workspace.
// Bucket comparison is inclusive on both ends.
type Filter struct {
	Start       *time.Time
	End         *time.Time
	WorkspaceID int64
}

// ChartPoint is one day of the dashboard time series.
type ChartPoint struct {
	Date    string  `json:"date"`
	Calls   int     `json:"calls"`
	Cost    float64 `json:"cost"`
	Minutes int     `json:"minutes"`
}

// CombinedStats aggregates both providers. Credit totals are converted to USD
// here, at read time; stored snapshots keep raw credits.
type CombinedStats struct {
	TotalCalls        int          `json:"total_calls"`
	TotalCost         float64      `json:"total_costs"`
	TotalMinutes      int          `json:"total_minutes"`
	TwilioCost        float64      `json:"twilio_cost"`
	ElevenLabsCostUSD float64      `json:"elevenlabs_cost_usd"`
	ElevenLabsCredits float64      `json:"elevenlabs_credits"`
	Chart             []ChartPoint `json:"chart_data"`
}

// TwilioStats summarizes the telephony provider alone.
type TwilioStats struct {
	TotalCalls           int     `json:"total_calls"`
	TotalCost            float64 `json:"total_cost"`
	TotalDurationSeconds int     `json:"total_duration_seconds"`
	TotalBillableMinutes int     `json:"total_minutes"`
	Snapshots            int     `json:"snapshots"`
}

// ElevenLabsStats summarizes the conversational-AI provider alone.
type ElevenLabsStats struct {
	TotalConversations   int     `json:"total_conversations"`
	TotalCredits         float64 `json:"total_credits"`
	TotalCostUSD         float64 `json:"total_cost_usd"`
	TotalDurationSeconds int     `json:"total_duration_seconds"`
	Snapshots            int     `json:"snapshots"`
}

// WorkspaceHistory is the recent snapshot trail for one workspace,
// newest first.
type WorkspaceHistory struct {
	WorkspaceID   int64                         `json:"workspace_id"`
	Calls         []snapshot.CallRollup         `json:"twilio_snapshots"`
	Conversations []snapshot.ConversationRollup `json:"elevenlabs_snapshots"`
}
