// Package merge reconciles the local element mirror against a fresh
// upstream snapshot: new upstream records are inserted, changed ones
// overwritten, vanished ones tombstoned. Every mutation commits together
// with its audit event.
package merge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/untoldecay/btcmap/internal/model"
	"github.com/untoldecay/btcmap/internal/store"
)

// DefaultSnapshotFloor is the minimum plausible snapshot size. A healthy
// upstream query returns thousands of places; far fewer means a truncated
// or failed response, and acting on it would tombstone the whole mirror.
const DefaultSnapshotFloor = 5000

// ErrSnapshotTooSmall marks a suspicious upstream response. Nothing was
// mutated.
var ErrSnapshotTooSmall = errors.New("suspicious upstream response")

// Result counts the mutations of one merge run.
type Result struct {
	Created int
	Updated int
	Deleted int
}

// Notifier receives one human-readable line per element event.
type Notifier interface {
	Send(ctx context.Context, message string)
}

// Engine runs the snapshot merge against a store.
type Engine struct {
	store    *store.Store
	log      *slog.Logger
	notifier Notifier
}

func New(s *store.Store, log *slog.Logger) *Engine {
	return &Engine{store: s, log: log}
}

// WithNotifier returns an engine that additionally posts a line per event.
func (e *Engine) WithNotifier(n Notifier) *Engine {
	return &Engine{store: e.store, log: e.log, notifier: n}
}

// Run merges the snapshot into the store and returns mutation counts.
// Each element's write and its event row share a transaction; a failure on
// one element aborts the run but leaves prior elements committed.
func (e *Engine) Run(ctx context.Context, snapshot []json.RawMessage) (*Result, error) {
	floor, err := e.store.GetConfInt64(ctx, store.ConfSnapshotFloor, DefaultSnapshotFloor)
	if err != nil {
		return nil, err
	}
	if int64(len(snapshot)) < floor {
		return nil, fmt.Errorf("%w: %d elements, floor %d", ErrSnapshotTooSmall, len(snapshot), floor)
	}

	live, err := e.store.SelectLiveElements(ctx)
	if err != nil {
		return nil, err
	}
	local := make(map[model.OsmKey]*model.Element, len(live))
	for _, l := range live {
		local[l.OsmKey()] = l
	}

	res := &Result{}
	seen := make(map[model.OsmKey]bool, len(snapshot))
	for _, raw := range snapshot {
		key := model.OsmKeyOf(raw)
		if key.Type == "" || key.ID == 0 {
			e.log.Warn("skipping malformed upstream element", "data", string(raw))
			continue
		}
		seen[key] = true

		cur, ok := local[key]
		if !ok {
			created, err := e.create(ctx, raw)
			if err != nil {
				return nil, fmt.Errorf("failed to create %s: %w", key, err)
			}
			res.Created++
			e.post(ctx, created, "created")
			continue
		}
		if sameDocument(cur.OverpassData, raw) {
			continue
		}
		updated, err := e.update(ctx, cur.ID, raw)
		if err != nil {
			return nil, fmt.Errorf("failed to update %s: %w", key, err)
		}
		res.Updated++
		e.post(ctx, updated, "updated")
	}

	for key, cur := range local {
		if seen[key] {
			continue
		}
		deleted, err := e.delete(ctx, cur)
		if err != nil {
			return nil, fmt.Errorf("failed to delete %s: %w", key, err)
		}
		res.Deleted++
		e.post(ctx, deleted, "deleted")
	}

	e.log.Info("merge finished",
		"snapshot", len(snapshot),
		"created", res.Created,
		"updated", res.Updated,
		"deleted", res.Deleted)
	return res, nil
}

func (e *Engine) create(ctx context.Context, raw json.RawMessage) (*model.Element, error) {
	var created *model.Element
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		created, err = tx.InsertElement(ctx, raw)
		if err != nil {
			return err
		}
		return e.recordEvent(ctx, tx, created, model.EventCreate)
	})
	return created, err
}

func (e *Engine) update(ctx context.Context, id int64, raw json.RawMessage) (*model.Element, error) {
	var updated *model.Element
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		updated, err = tx.SetElementOverpassData(ctx, id, raw)
		if err != nil {
			return err
		}
		return e.recordEvent(ctx, tx, updated, model.EventUpdate)
	})
	return updated, err
}

func (e *Engine) delete(ctx context.Context, cur *model.Element) (*model.Element, error) {
	var deleted *model.Element
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		now := model.Now()
		var err error
		deleted, err = tx.SetElementDeletedAt(ctx, cur.ID, &now)
		if err != nil {
			return err
		}
		return e.recordEvent(ctx, tx, deleted, model.EventDelete)
	})
	return deleted, err
}

// recordEvent writes the audit row and makes sure the editing account has a
// mirror stub so the event's user_id resolves.
func (e *Engine) recordEvent(ctx context.Context, tx *store.Tx, el *model.Element, typ string) error {
	uid := el.OsmUserID()
	if uid != 0 {
		stub, err := json.Marshal(map[string]any{"id": uid, "user": el.OsmUserName()})
		if err != nil {
			return err
		}
		if err := tx.EnsureOsmUser(ctx, uid, stub); err != nil {
			return err
		}
	}
	_, err := tx.InsertElementEvent(ctx, uid, el.ID, typ)
	return err
}

func (e *Engine) post(ctx context.Context, el *model.Element, action string) {
	if e.notifier == nil {
		return
	}
	name := el.Name()
	if name == "" {
		name = el.OsmKey().String()
	}
	user := el.OsmUserName()
	if user == "" {
		user = "someone"
	}
	e.notifier.Send(ctx, fmt.Sprintf("%s %s %s %s", user, action, name, el.OsmURL()))
}

// sameDocument compares two JSON documents structurally, so upstream key
// reordering does not count as a change.
func sameDocument(a, b json.RawMessage) bool {
	var av, bv any
	if err := json.Unmarshal(a, &av); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return false
	}
	return reflect.DeepEqual(av, bv)
}
