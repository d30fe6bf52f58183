package issue

import (
	"context"
	"log/slog"
	"time"

	"github.com/untoldecay/btcmap/internal/model"
	"github.com/untoldecay/btcmap/internal/store"
)

// Result counts one generation run.
type Result struct {
	Elements int // live elements examined
	Affected int // elements whose finding set moved
	Swept    int // stale findings of tombstoned elements
}

// Engine reconciles stored element_issue rows with freshly computed
// findings.
type Engine struct {
	store *store.Store
	log   *slog.Logger
}

func New(s *store.Store, log *slog.Logger) *Engine {
	return &Engine{store: s, log: log}
}

// Run refreshes findings for every live element and sweeps findings of
// tombstoned ones. Rows are reinstated rather than duplicated when a
// finding reappears.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	swept, err := e.store.SweepIssuesOfDeletedElements(ctx)
	if err != nil {
		return nil, err
	}

	elements, err := e.store.SelectLiveElements(ctx)
	if err != nil {
		return nil, err
	}

	res := &Result{Swept: int(swept)}
	now := model.Now()
	for _, el := range elements {
		changed, err := e.refresh(ctx, el, now)
		if err != nil {
			return nil, err
		}
		res.Elements++
		if changed {
			res.Affected++
		}
	}

	e.log.Info("issue generation finished",
		"elements", res.Elements,
		"affected", res.Affected,
		"swept", res.Swept)
	return res, nil
}

// refresh reconciles one element's rows and its issues count tag.
func (e *Engine) refresh(ctx context.Context, el *model.Element, now time.Time) (bool, error) {
	findings := Issues(el, now)
	want := make(map[string]int64, len(findings))
	for _, f := range findings {
		want[f.Code] = f.Severity
	}

	changed := false
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		rows, err := tx.SelectElementIssuesByElement(ctx, el.ID)
		if err != nil {
			return err
		}
		missing := make(map[string]int64, len(want))
		for code, sev := range want {
			missing[code] = sev
		}
		for _, row := range rows {
			if _, applies := missing[row.Code]; applies {
				if row.Deleted() {
					if _, err := tx.SetElementIssueDeletedAt(ctx, row.ID, nil); err != nil {
						return err
					}
					changed = true
				}
				delete(missing, row.Code)
				continue
			}
			if !row.Deleted() {
				if _, err := tx.SetElementIssueDeletedAt(ctx, row.ID, &now); err != nil {
					return err
				}
				changed = true
			}
		}
		for code, sev := range missing {
			if _, err := tx.InsertElementIssue(ctx, el.ID, code, sev); err != nil {
				return err
			}
			changed = true
		}
		return refreshCountTag(ctx, tx, el, int64(len(findings)))
	})
	return changed, err
}

// refreshCountTag keeps element.tags.issues equal to the live finding
// count, absent at zero, writing only on change.
func refreshCountTag(ctx context.Context, tx *store.Tx, el *model.Element, count int64) error {
	if count == 0 {
		if !el.Tags.Has("issues") {
			return nil
		}
		_, err := tx.PatchElementTags(ctx, el.ID, model.Tags{"issues": nil})
		return err
	}
	if el.Tags.Has("issues") && el.Tags.GetInt64("issues") == count {
		return nil
	}
	_, err := tx.PatchElementTags(ctx, el.ID, model.Tags{"issues": float64(count)})
	return err
}
