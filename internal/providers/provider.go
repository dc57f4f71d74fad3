// Package providers holds the upstream API adapters. Each adapter normalizes
// its provider's wire shape into the canonical records in internal/calls;
// nothing downstream sees provider-specific payloads.
package providers

import (
	"context"
	"time"

	"voicemetrics/internal/calls"
)

// FetchStats reports one fetch pass against an upstream API.
type FetchStats struct {
	Pages       int `json:"pages"`
	RateLimited int `json:"rate_limited"`
	// Skipped counts records dropped because their detail fetch failed after
	// retries. The sync proceeds without them; they return next window.
	Skipped int `json:"skipped"`
}

// CallSource fetches telephony call records started at or after `since`.
type CallSource interface {
	FetchCalls(ctx context.Context, since time.Time) ([]calls.RawRecord, FetchStats, error)
}

// ConversationSource fetches conversational-AI records started at or after
// `since`, including their per-conversation charge details.
type ConversationSource interface {
	FetchConversations(ctx context.Context, since time.Time) ([]calls.ConversationRecord, FetchStats, error)
}
