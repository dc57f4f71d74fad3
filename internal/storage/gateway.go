package storage

import (
	"context"
	"log/slog"

	"voicemetrics/internal/snapshot"
)

// DefaultBatchSize bounds rows per store write to respect store limits.
const DefaultBatchSize = 1000

// BatchOutcome reports a batched upsert. Writes are not all-or-nothing: a
// failed batch is counted and the remaining batches still run.
type BatchOutcome struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Batches   int `json:"batches"`
}

// Gateway performs batched idempotent writes against a Store. Each underlying
// batch is atomic; the gateway flushes incrementally so a crash mid-run leaves
// a partially-synced but internally-consistent state.
type Gateway struct {
	store     Store
	batchSize int
	log       *slog.Logger
}

func NewGateway(store Store, batchSize int, log *slog.Logger) *Gateway {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{store: store, batchSize: batchSize, log: log}
}

// UpsertCallRecords writes ledger rows in bounded batches, keyed by external
// id with overwrite-on-conflict.
func (g *Gateway) UpsertCallRecords(ctx context.Context, rows []CallRow) BatchOutcome {
	out := BatchOutcome{Attempted: len(rows)}
	for start := 0; start < len(rows); start += g.batchSize {
		end := min(start+g.batchSize, len(rows))
		batch := rows[start:end]
		out.Batches++
		if err := g.store.UpsertCalls(ctx, batch); err != nil {
			out.Failed += len(batch)
			g.log.Error("call batch upsert failed", "batch", out.Batches, "rows", len(batch), "err", err)
			continue
		}
		out.Succeeded += len(batch)
	}
	return out
}

// UpsertCallRollups writes telephony rollups keyed by (workspace, bucket).
func (g *Gateway) UpsertCallRollups(ctx context.Context, rows []snapshot.CallRollup) BatchOutcome {
	out := BatchOutcome{Attempted: len(rows)}
	for start := 0; start < len(rows); start += g.batchSize {
		end := min(start+g.batchSize, len(rows))
		batch := rows[start:end]
		out.Batches++
		if err := g.store.UpsertCallRollups(ctx, batch); err != nil {
			out.Failed += len(batch)
			g.log.Error("call rollup batch upsert failed", "batch", out.Batches, "rows", len(batch), "err", err)
			continue
		}
		out.Succeeded += len(batch)
	}
	return out
}

// UpsertConversationRollups writes conversational-AI rollups keyed by
// (workspace, bucket).
func (g *Gateway) UpsertConversationRollups(ctx context.Context, rows []snapshot.ConversationRollup) BatchOutcome {
	out := BatchOutcome{Attempted: len(rows)}
	for start := 0; start < len(rows); start += g.batchSize {
		end := min(start+g.batchSize, len(rows))
		batch := rows[start:end]
		out.Batches++
		if err := g.store.UpsertConversationRollups(ctx, batch); err != nil {
			out.Failed += len(batch)
			g.log.Error("conversation rollup batch upsert failed", "batch", out.Batches, "rows", len(batch), "err", err)
			continue
		}
		out.Succeeded += len(batch)
	}
	return out
}
