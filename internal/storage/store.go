package storage

import (
	"context"
	"encoding/json"
	"time"

	"voicemetrics/internal/calls"
	"voicemetrics/internal/snapshot"
)

// Workspace is a billing tenant. Workspaces are created lazily by attribution
// and never deleted by this subsystem.
type Workspace struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// WorkspacePhone registers a phone number under exactly one workspace.
// Numbers are globally unique in the directory; rows are insert-only.
type WorkspacePhone struct {
	WorkspaceID int64  `json:"workspace_id"`
	PhoneNumber string `json:"phone_number"`
	IsPrimary   bool   `json:"is_primary"`
}

// CallRow is one call-ledger row. ID is the provider-assigned external id and
// the natural idempotency key; upserts on it overwrite.
type CallRow struct {
	ID              string          `json:"id"`
	WorkspaceID     int64           `json:"workspace_id"`
	Source          calls.Source    `json:"source"`
	PhoneFrom       string          `json:"phone_from"`
	PhoneTo         string          `json:"phone_to"`
	DurationSeconds int             `json:"duration"`
	Cost            float64         `json:"cost"`
	Status          string          `json:"status"`
	CallDate        time.Time       `json:"call_date"`
	Raw             json.RawMessage `json:"raw_data,omitempty"`
}

// Store is the persistence boundary. Upsert methods write one batch
// atomically; batching and partial-failure accounting live in Gateway.
type Store interface {
	ListWorkspaces(ctx context.Context) ([]Workspace, error)

	ListWorkspacePhones(ctx context.Context) ([]WorkspacePhone, error)
	InsertWorkspacePhone(ctx context.Context, phone WorkspacePhone) error

	UpsertCalls(ctx context.Context, rows []CallRow) error
	UpsertCallRollups(ctx context.Context, rows []snapshot.CallRollup) error
	UpsertConversationRollups(ctx context.Context, rows []snapshot.ConversationRollup) error
}

// CallRowFromRecord converts an attributed telephony record to its ledger row.
func CallRowFromRecord(rec calls.AttributedRecord) CallRow {
	return CallRow{
		ID:              rec.ExternalID,
		WorkspaceID:     rec.WorkspaceID,
		Source:          rec.Source,
		PhoneFrom:       rec.From,
		PhoneTo:         rec.To,
		DurationSeconds: rec.DurationSeconds,
		Cost:            rec.Cost,
		Status:          rec.Status,
		CallDate:        rec.CallDate,
		Raw:             rec.Raw,
	}
}

// CallRowFromConversation converts an attributed conversation to its ledger row.
func CallRowFromConversation(conv calls.AttributedConversation) CallRow {
	return CallRow{
		ID:              conv.ExternalID,
		WorkspaceID:     conv.WorkspaceID,
		Source:          calls.SourceElevenLabs,
		PhoneFrom:       conv.AgentNumber,
		PhoneTo:         conv.ExternalNumber,
		DurationSeconds: conv.DurationSeconds,
		Cost:            conv.CostCredits,
		Status:          conv.Status,
		CallDate:        conv.CallDate,
		Raw:             conv.Raw,
	}
}
