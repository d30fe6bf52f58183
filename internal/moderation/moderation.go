// Package moderation keeps the paid and community annotations on elements
// consistent: the comments count tag and the boost expiry tag.
package moderation

import (
	"context"
	"time"

	"github.com/untoldecay/btcmap/internal/model"
)

// Store is the slice of the element store the maintainers need. Both the
// plain store and an open transaction satisfy it, so invoice settlement can
// run these inside its own transaction.
type Store interface {
	SelectElementByID(ctx context.Context, id int64) (*model.Element, error)
	CountLiveElementComments(ctx context.Context, elementID int64) (int64, error)
	PatchElementTags(ctx context.Context, id int64, patch model.Tags) (*model.Element, error)
}

// RefreshCommentsCount makes element.tags.comments equal the live comment
// count, removing the tag at zero. Writes only when the stored value moved,
// so a consistent element stays out of the sync feed.
func RefreshCommentsCount(ctx context.Context, s Store, elementID int64) (*model.Element, error) {
	count, err := s.CountLiveElementComments(ctx, elementID)
	if err != nil {
		return nil, err
	}
	el, err := s.SelectElementByID(ctx, elementID)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		if !el.Tags.Has("comments") {
			return el, nil
		}
		return s.PatchElementTags(ctx, elementID, model.Tags{"comments": nil})
	}
	if el.Tags.Has("comments") && el.Tags.GetInt64("comments") == count {
		return el, nil
	}
	return s.PatchElementTags(ctx, elementID, model.Tags{"comments": float64(count)})
}

// BoostElement extends the element's boost by days. Remaining boost time is
// preserved: the new expiry counts from the current one when that is still
// in the future, from now otherwise.
func BoostElement(ctx context.Context, s Store, elementID int64, days int64) (*model.Element, error) {
	el, err := s.SelectElementByID(ctx, elementID)
	if err != nil {
		return nil, err
	}
	now := model.Now()
	base := now
	if cur := el.Tags.GetString("boost:expires"); cur != "" {
		if t, err := time.Parse(time.RFC3339, cur); err == nil && t.After(now) {
			base = t
		}
	}
	expires := base.AddDate(0, 0, int(days))
	return s.PatchElementTags(ctx, elementID, model.Tags{"boost:expires": expires.Format(time.RFC3339)})
}
