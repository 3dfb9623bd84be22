// Package sync orchestrates synchronization rounds between the local record
// store and the remote service.
package sync

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kaiwenho/healthsync/internal/api"
	"github.com/kaiwenho/healthsync/internal/errors"
	"github.com/kaiwenho/healthsync/internal/logging"
	"github.com/kaiwenho/healthsync/internal/models"
	"github.com/kaiwenho/healthsync/internal/store"
	"github.com/kaiwenho/healthsync/internal/sync/conflict"
)

// PushSource selects what a round transmits.
//
// The ledger source pushes the local pending-change ledger and is the
// correct default. The server-unsynced source reproduces the original wire
// behavior of echoing the server-reported unsynced set back to the sync
// endpoint; it exists for compatibility with servers that expect it.
type PushSource string

const (
	PushSourceLedger         PushSource = "ledger"
	PushSourceServerUnsynced PushSource = "server_unsynced"
)

// Status represents the engine's current state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSyncing Status = "syncing"
	StatusFailed  Status = "failed"
)

// Remote is the slice of the API surface a round needs.
type Remote interface {
	UnsyncedMessages(ctx context.Context, deviceID string) ([]models.ChatMessage, error)
	UnsyncedAdvice(ctx context.Context, deviceID string) ([]models.HealthAdvice, error)
	UnsyncedDietRecords(ctx context.Context, deviceID string) ([]models.DietRecord, error)
	PushSyncData(ctx context.Context, deviceID string, payload api.SyncPayload) (*api.PushResult, error)
	ResolveConflict(ctx context.Context, deviceID string, c models.Conflict) error
}

// Engine executes synchronization rounds. One round runs at a time; a second
// Sync call while a round is in flight fails immediately. The engine never
// retries on its own — retry is the caller's policy.
type Engine struct {
	store      *store.Store
	remote     Remote
	deviceID   string
	pushSource PushSource

	mu      sync.Mutex
	syncing bool
	status  Status
	lastErr error
}

// NewEngine creates an Engine. An empty pushSource defaults to the ledger.
func NewEngine(st *store.Store, remote Remote, deviceID string, pushSource PushSource) *Engine {
	if pushSource == "" {
		pushSource = PushSourceLedger
	}
	return &Engine{
		store:      st,
		remote:     remote,
		deviceID:   deviceID,
		pushSource: pushSource,
		status:     StatusIdle,
	}
}

// Result describes one completed (or aborted) round.
type Result struct {
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	Pushed           models.PendingCounts
	Conflicts        int
	Resolved         int
	SkippedConflicts int
	ReportFailures   int
}

// Status returns the engine's current state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// LastError returns the error of the most recent failed round, nil after a
// successful one.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// gathered is the joined output of the three-way unsynced fetch.
type gathered struct {
	messages    []models.ChatMessage
	advice      []models.HealthAdvice
	dietRecords []models.DietRecord
}

// Sync executes one round: gather, push, apply the server's response,
// finalize. Any transport or application failure during gather or push
// aborts the round with local state untouched.
func (e *Engine) Sync(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	if e.syncing {
		e.mu.Unlock()
		return nil, errors.New(errors.ErrSyncInProgress, "sync round already in progress")
	}
	e.syncing = true
	e.status = StatusSyncing
	e.mu.Unlock()

	result := &Result{StartTime: time.Now().UTC()}
	err := e.run(ctx, result)

	result.EndTime = time.Now().UTC()
	result.Duration = result.EndTime.Sub(result.StartTime)

	e.mu.Lock()
	e.syncing = false
	e.lastErr = err
	if err != nil {
		e.status = StatusFailed
	} else {
		e.status = StatusIdle
	}
	e.mu.Unlock()

	if err != nil {
		return result, err
	}
	return result, nil
}

func (e *Engine) run(ctx context.Context, result *Result) error {
	// Step 1: gather the three unsynced sets concurrently. All or nothing:
	// one failure aborts before any local state is touched.
	remote, err := e.gather(ctx)
	if err != nil {
		return errors.Wrap(errors.ErrSyncFailed, "gather aborted", err)
	}

	// Step 2: assemble and push the payload.
	payload, transmitted := e.buildPayload(remote)
	result.Pushed = models.PendingCounts{
		Messages:    len(payload.Messages),
		Advice:      len(payload.Advice),
		DietRecords: len(payload.DietRecords),
	}

	push, err := e.remote.PushSyncData(ctx, e.deviceID, payload)
	if err != nil {
		return errors.Wrap(errors.ErrSyncFailed, "push aborted", err)
	}

	// Steps 3-5: apply the server's response.
	if len(push.Conflicts) == 0 {
		return e.finalize(result, transmitted)
	}

	result.Conflicts = len(push.Conflicts)
	e.applyConflicts(ctx, result, push.Conflicts)
	return nil
}

// gather runs the three unsynced fetches concurrently and joins them before
// any local state is touched.
func (e *Engine) gather(ctx context.Context) (*gathered, error) {
	var out gathered

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		records, err := e.remote.UnsyncedMessages(gctx, e.deviceID)
		if err != nil {
			return err
		}
		out.messages = records
		return nil
	})
	g.Go(func() error {
		records, err := e.remote.UnsyncedAdvice(gctx, e.deviceID)
		if err != nil {
			return err
		}
		out.advice = records
		return nil
	})
	g.Go(func() error {
		records, err := e.remote.UnsyncedDietRecords(gctx, e.deviceID)
		if err != nil {
			return err
		}
		out.dietRecords = records
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &out, nil
}

// transmittedIDs is the per-table set of record ids a round pushed, used to
// clear ledger entries on success.
type transmittedIDs map[models.RecordTable][]string

// buildPayload assembles the push body from the configured source.
func (e *Engine) buildPayload(remote *gathered) (api.SyncPayload, transmittedIDs) {
	var payload api.SyncPayload
	ids := make(transmittedIDs)

	switch e.pushSource {
	case PushSourceServerUnsynced:
		for _, m := range remote.messages {
			payload.Messages = appendRaw(payload.Messages, m)
			ids[models.TableChatRecords] = append(ids[models.TableChatRecords], m.Key())
		}
		for _, a := range remote.advice {
			payload.Advice = appendRaw(payload.Advice, a)
			ids[models.TableHealthAdvice] = append(ids[models.TableHealthAdvice], a.Key())
		}
		for _, r := range remote.dietRecords {
			payload.DietRecords = appendRaw(payload.DietRecords, r)
			ids[models.TableDietaryRecords] = append(ids[models.TableDietaryRecords], r.Key())
		}
	default:
		pending := e.store.PendingChanges()
		for _, c := range pending.Messages {
			payload.Messages = append(payload.Messages, c.Data)
			ids[models.TableChatRecords] = append(ids[models.TableChatRecords], c.RecordKey())
		}
		for _, c := range pending.Advice {
			payload.Advice = append(payload.Advice, c.Data)
			ids[models.TableHealthAdvice] = append(ids[models.TableHealthAdvice], c.RecordKey())
		}
		for _, c := range pending.DietRecords {
			payload.DietRecords = append(payload.DietRecords, c.Data)
			ids[models.TableDietaryRecords] = append(ids[models.TableDietaryRecords], c.RecordKey())
		}
	}

	return payload, ids
}

func appendRaw(dst []json.RawMessage, record interface{}) []json.RawMessage {
	data, err := json.Marshal(record)
	if err != nil {
		// Records round-trip through JSON on the way in, so this cannot
		// happen for well-formed collections; drop the record rather than
		// abort the round.
		logging.Error("Failed to encode record for push", err)
		return dst
	}
	return append(dst, data)
}

// finalize completes a conflict-free round: the transmitted records flip to
// synced, their ledger entries clear, and lastSync advances to the round's
// start time.
func (e *Engine) finalize(result *Result, transmitted transmittedIDs) error {
	for _, table := range models.Tables() {
		if err := e.store.MarkSynced(table, transmitted[table]); err != nil {
			return err
		}
	}
	if err := e.store.SetLastSync(result.StartTime); err != nil {
		return err
	}

	logging.Info("Sync round completed", map[string]interface{}{
		"device_id":   e.deviceID,
		"messages":    result.Pushed.Messages,
		"advice":      result.Pushed.Advice,
		"dietRecords": result.Pushed.DietRecords,
	})
	return nil
}

// applyConflicts processes the server's conflict batch sequentially, in the
// order the server returned it. A malformed descriptor is skipped and
// counted; it never aborts the batch.
func (e *Engine) applyConflicts(ctx context.Context, result *Result, conflicts []models.Conflict) {
	for i := range conflicts {
		c := conflicts[i]
		if err := c.Validate(); err != nil {
			result.SkippedConflicts++
			logging.Warn("Skipping malformed conflict descriptor", map[string]interface{}{
				"record_id": c.RecordID,
				"error":     err.Error(),
			})
			continue
		}

		if err := e.applyConflict(c); err != nil {
			result.SkippedConflicts++
			logging.Error("Failed to apply conflict resolution", err, map[string]interface{}{
				"table":     c.Table.String(),
				"record_id": c.RecordID,
			})
			continue
		}
		result.Resolved++

		// Report the applied resolution. The local application already
		// completed, so a reporting failure is recorded, not rolled back.
		if err := e.remote.ResolveConflict(ctx, e.deviceID, c); err != nil {
			result.ReportFailures++
			logging.Warn("Failed to report conflict resolution", map[string]interface{}{
				"table":     c.Table.String(),
				"record_id": c.RecordID,
				"error":     err.Error(),
			})
		}
	}
}

// applyConflict routes one validated conflict through its resolution.
func (e *Engine) applyConflict(c models.Conflict) error {
	switch c.Resolution {
	case models.ResolutionKeepServer:
		if err := e.store.Replace(c.Table, c.RecordID, c.ServerData); err != nil {
			return err
		}
		return e.store.ClearLedgerEntry(c.Table, c.RecordID)

	case models.ResolutionKeepClient:
		// The local record stays as is, pending entry included; it will be
		// pushed again next round. Only the sync time advances.
		return e.store.SetLastSync(time.Now().UTC())

	case models.ResolutionMerge:
		merged, err := conflict.Merge(c.Table, c.ServerData, c.ClientData)
		if err != nil {
			return errors.Wrap(errors.ErrConflictDescriptor, "merge failed", err)
		}
		if err := e.store.Replace(c.Table, c.RecordID, merged); err != nil {
			return err
		}
		return e.store.ClearLedgerEntry(c.Table, c.RecordID)
	}
	return errors.Newf(errors.ErrConflictDescriptor, "unknown resolution %q", string(c.Resolution))
}
