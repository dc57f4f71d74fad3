package calls

import (
	"encoding/json"
	"time"
)

// Source tags which upstream provider produced a record.
type Source string

const (
	SourceTwilio     Source = "twilio"
	SourceElevenLabs Source = "elevenlabs"
)

// Direction is the closed set of call direction categories observed upstream.
// Attribution dispatches exhaustively on it; anything the provider sends
// outside the three known values parses to DirectionUnclassified.
type Direction int

const (
	DirectionUnclassified Direction = iota
	DirectionOutboundAttributable
	DirectionTerminatingTrunk
	DirectionOriginatingTrunk
)

const (
	directionOutboundAPI         = "outbound-api"
	directionTrunkingTerminating = "trunking-terminating"
	directionTrunkingOriginating = "trunking-originating"
)

// ParseDirection maps the provider wire value to a Direction.
func ParseDirection(s string) Direction {
	switch s {
	case directionOutboundAPI:
		return DirectionOutboundAttributable
	case directionTrunkingTerminating:
		return DirectionTerminatingTrunk
	case directionTrunkingOriginating:
		return DirectionOriginatingTrunk
	default:
		return DirectionUnclassified
	}
}

func (d Direction) String() string {
	switch d {
	case DirectionOutboundAttributable:
		return directionOutboundAPI
	case DirectionTerminatingTrunk:
		return directionTrunkingTerminating
	case DirectionOriginatingTrunk:
		return directionTrunkingOriginating
	default:
		return "unclassified"
	}
}

// RawRecord is the canonical post-adapter call record shape.
// Cost is already normalized to a non-negative decimal; duration to whole
// seconds; missing values are zero, never null, so aggregation stays total.
type RawRecord struct {
	ExternalID      string          `json:"external_id"`
	From            string          `json:"from_number"`
	To              string          `json:"to_number"`
	DurationSeconds int             `json:"duration_seconds"`
	Cost            float64         `json:"cost"`
	Status          string          `json:"status"`
	Direction       Direction       `json:"direction"`
	StartTime       *time.Time      `json:"start_time,omitempty"`
	EndTime         *time.Time      `json:"end_time,omitempty"`
	Raw             json.RawMessage `json:"raw_payload,omitempty"`
}

// AttributedRecord is a RawRecord resolved to exactly one workspace.
// This is the unit persisted to the call ledger.
type AttributedRecord struct {
	RawRecord

	WorkspaceID int64     `json:"workspace_id"`
	Source      Source    `json:"source"`
	CallDate    time.Time `json:"call_date"`
}

// ConversationCharges carries the conversational-AI provider's charge
// breakdown. All amounts are in the provider's credit unit.
type ConversationCharges struct {
	DevDiscount            float64 `json:"dev_discount"`
	IsBurst                bool    `json:"is_burst"`
	LLMUsage               float64 `json:"llm_usage"`
	LLMPrice               float64 `json:"llm_price"`
	LLMCharge              float64 `json:"llm_charge"`
	CallCharge             float64 `json:"call_charge"`
	FreeMinutesConsumed    float64 `json:"free_minutes_consumed"`
	FreeLLMDollarsConsumed float64 `json:"free_llm_dollars_consumed"`
}

// ConversationRecord is the canonical shape for one conversational-AI call.
// CostCredits is the provider's cumulative credit charge; conversion to USD
// happens at read time only.
type ConversationRecord struct {
	ExternalID      string              `json:"external_id"`
	AgentID         string              `json:"agent_id"`
	AgentNumber     string              `json:"agent_number"`
	ExternalNumber  string              `json:"external_number"`
	Status          string              `json:"status"`
	DurationSeconds int                 `json:"duration_seconds"`
	CostCredits     float64             `json:"cost_credits"`
	Charges         ConversationCharges `json:"charges"`
	StartTime       *time.Time          `json:"start_time,omitempty"`
	Raw             json.RawMessage     `json:"raw_payload,omitempty"`
}

// AttributedConversation is a ConversationRecord resolved to a workspace.
type AttributedConversation struct {
	ConversationRecord

	WorkspaceID int64     `json:"workspace_id"`
	CallDate    time.Time `json:"call_date"`
}

// BillableMinutes rounds a call up to whole minutes. Billing rounds up per
// call, not on the aggregate: 1s and 60s are both one minute, 61s is two.
func BillableMinutes(durationSeconds int) int {
	if durationSeconds <= 0 {
		return 0
	}
	return (durationSeconds + 59) / 60
}
