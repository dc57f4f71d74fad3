package snapshot

import "time"

// CallRollup is one pre-aggregated row for the telephony provider, keyed by
// (workspace, bucket start). Re-running aggregation over the same call set
// must reproduce these values exactly; persistence upserts overwrite, never
// add.
type CallRollup struct {
	WorkspaceID int64     `json:"workspace_id"`
	BucketStart time.Time `json:"snapshot_date"`

	TotalCalls           int     `json:"total_calls"`
	TotalCost            float64 `json:"total_cost"`
	TotalDurationSeconds int     `json:"total_duration"`
	TotalBillableMinutes int     `json:"real_minutes"`
}

// ConversationRollup is the conversational-AI provider's rollup row.
// Cost fields are raw credits; USD conversion happens at read time.
type ConversationRollup struct {
	WorkspaceID int64     `json:"workspace_id"`
	BucketStart time.Time `json:"snapshot_date"`

	TotalConversations   int     `json:"total_conversations"`
	TotalCostCredits     float64 `json:"total_cost"`
	TotalDurationSeconds int     `json:"total_duration"`

	LLMPrice               float64 `json:"llm_price"`
	LLMCharge              float64 `json:"llm_charge"`
	CallCharge             float64 `json:"call_charge"`
	FreeMinutesConsumed    float64 `json:"free_minutes_consumed"`
	FreeLLMDollarsConsumed float64 `json:"free_llm_dollars_consumed"`
	DevDiscount            float64 `json:"dev_discount"`
}
