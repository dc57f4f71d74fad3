package attribution

import (
	"context"
	"log/slog"
	"math"
	"time"

	"voicemetrics/internal/calls"
)

// Result is one attribution run over a fetch window.
type Result struct {
	Records []calls.AttributedRecord

	// Per-rule counters for job summaries.
	Case1         int
	Case2         int
	Case3         int
	Unclassified  int
	CreatedPhones int
}

// Engine assigns every raw record to exactly one workspace.
//
// The rules, by direction:
//
//	outbound-api           look up from_number; unknown numbers register
//	                       lazily under the default workspace
//	trunking-terminating   same lookup on from_number
//	trunking-originating   correlate against the outbound records of the same
//	                       window: among records whose to_number equals this
//	                       record's from_number, pick the one whose end time
//	                       is nearest, and inherit its workspace
//	anything else          default workspace
//
// Correlation needs the outbound side resolved first, so Attribute runs two
// passes over the window.
type Engine struct {
	dir   Directory
	log   *slog.Logger
	clock func() time.Time
}

func NewEngine(dir Directory, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{dir: dir, log: log, clock: time.Now}
}

// WithClock overrides the fallback call-date clock. Test hook.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// Attribute resolves a window of records fetched together. Records with no
// start time are dated at processing time so the ledger row is always
// bucketable.
func (e *Engine) Attribute(ctx context.Context, source calls.Source, records []calls.RawRecord) Result {
	res := Result{Records: make([]calls.AttributedRecord, 0, len(records))}

	// Pass 1: direct lookups. Collect the resolved outbound records as
	// correlation anchors for pass 2.
	var anchors []anchor
	var deferred []calls.RawRecord

	for _, rec := range records {
		switch rec.Direction {
		case calls.DirectionOutboundAttributable, calls.DirectionTerminatingTrunk:
			ws := e.resolveFromNumber(ctx, rec, &res)
			if rec.Direction == calls.DirectionOutboundAttributable {
				res.Case1++
			} else {
				res.Case2++
			}
			anchors = append(anchors, anchor{rec: rec, workspaceID: ws})
			res.Records = append(res.Records, e.attributed(source, rec, ws))
		case calls.DirectionOriginatingTrunk:
			deferred = append(deferred, rec)
		default:
			res.Unclassified++
			res.Records = append(res.Records, e.attributed(source, rec, DefaultWorkspaceID))
		}
	}

	// Pass 2: correlate originating-trunk legs against the anchors.
	for _, rec := range deferred {
		res.Case3++
		ws := DefaultWorkspaceID
		if rec.EndTime != nil {
			best, found := nearestAnchor(rec, anchors)
			if found {
				ws = best
			} else {
				e.log.Debug("no correlation match, using default workspace",
					"external_id", rec.ExternalID, "from", rec.From)
			}
		} else {
			e.log.Debug("originating leg without end time, using default workspace",
				"external_id", rec.ExternalID)
		}
		res.Records = append(res.Records, e.attributed(source, rec, ws))
	}

	return res
}

// AttributeConversations resolves conversational-AI records by agent number.
// Unknown agent numbers register lazily under the default workspace, same as
// unknown telephony numbers.
func (e *Engine) AttributeConversations(ctx context.Context, records []calls.ConversationRecord) ([]calls.AttributedConversation, int) {
	out := make([]calls.AttributedConversation, 0, len(records))
	created := 0
	for _, rec := range records {
		ws := DefaultWorkspaceID
		if rec.AgentNumber != "" {
			if known, ok := e.dir.Lookup(rec.AgentNumber); ok {
				ws = known
			} else if err := e.dir.Register(ctx, rec.AgentNumber, DefaultWorkspaceID, false); err != nil {
				e.log.Warn("agent number registration failed, attributing to default workspace",
					"number", rec.AgentNumber, "err", err)
			} else {
				created++
			}
		}
		callDate := e.clock()
		if rec.StartTime != nil {
			callDate = *rec.StartTime
		}
		out = append(out, calls.AttributedConversation{
			ConversationRecord: rec,
			WorkspaceID:        ws,
			CallDate:           callDate,
		})
	}
	return out, created
}

func (e *Engine) resolveFromNumber(ctx context.Context, rec calls.RawRecord, res *Result) int64 {
	if rec.From == "" {
		return DefaultWorkspaceID
	}
	if ws, ok := e.dir.Lookup(rec.From); ok {
		return ws
	}
	if err := e.dir.Register(ctx, rec.From, DefaultWorkspaceID, false); err != nil {
		// Attribution must not stall the sync; the record still lands in the
		// default workspace and the number retries next run.
		e.log.Warn("phone registration failed, attributing to default workspace",
			"number", rec.From, "err", err)
		return DefaultWorkspaceID
	}
	res.CreatedPhones++
	return DefaultWorkspaceID
}

func (e *Engine) attributed(source calls.Source, rec calls.RawRecord, ws int64) calls.AttributedRecord {
	callDate := e.clock()
	if rec.StartTime != nil {
		callDate = *rec.StartTime
	}
	return calls.AttributedRecord{
		RawRecord:   rec,
		WorkspaceID: ws,
		Source:      source,
		CallDate:    callDate,
	}
}

// anchor is a pass-1 record whose workspace is already resolved.
type anchor struct {
	rec         calls.RawRecord
	workspaceID int64
}

// nearestAnchor finds the anchor whose to_number equals rec.From and whose
// end time is closest to rec's. Ties break on the smaller external id so runs
// are deterministic regardless of fetch order.
func nearestAnchor(rec calls.RawRecord, anchors []anchor) (int64, bool) {
	var (
		found    bool
		bestWS   int64
		bestDiff time.Duration = math.MaxInt64
		bestID   string
	)
	for _, a := range anchors {
		if a.rec.To != rec.From || a.rec.EndTime == nil {
			continue
		}
		diff := rec.EndTime.Sub(*a.rec.EndTime)
		if diff < 0 {
			diff = -diff
		}
		if !found || diff < bestDiff || (diff == bestDiff && a.rec.ExternalID < bestID) {
			found = true
			bestWS = a.workspaceID
			bestDiff = diff
			bestID = a.rec.ExternalID
		}
	}
	return bestWS, found
}
