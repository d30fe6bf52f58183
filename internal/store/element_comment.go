package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/untoldecay/btcmap/internal/model"
)

const elementCommentCols = "id, element_id, comment, created_at, updated_at, deleted_at"

func scanElementComment(sc scanner) (*model.ElementComment, error) {
	var (
		c         model.ElementComment
		createdAt string
		updatedAt string
		deletedAt sql.NullString
	)
	if err := sc.Scan(&c.ID, &c.ElementID, &c.Comment, &createdAt, &updatedAt, &deletedAt); err != nil {
		return nil, err
	}
	var err error
	if c.CreatedAt, err = parseRowTime(createdAt); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseRowTime(updatedAt); err != nil {
		return nil, err
	}
	if c.DeletedAt, err = parseNullTime(deletedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func insertElementComment(ctx context.Context, q dbtx, elementID int64, comment string, deleted bool) (*model.ElementComment, error) {
	// The element must exist and be live; the FK alone would accept a
	// tombstoned element.
	if _, err := selectElementByID(ctx, q, elementID); err != nil {
		return nil, err
	}
	now := model.FormatTime(model.Now())
	var deletedAt any
	if deleted {
		deletedAt = now
	}
	res, err := q.ExecContext(ctx, `
		INSERT INTO element_comment (element_id, comment, created_at, updated_at, deleted_at)
		VALUES (?, ?, ?, ?, ?)
	`, elementID, comment, now, now, deletedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert element comment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get inserted comment id: %w", err)
	}
	return selectElementCommentByID(ctx, q, id)
}

func selectElementCommentByID(ctx context.Context, q dbtx, id int64) (*model.ElementComment, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+elementCommentCols+` FROM element_comment WHERE id = ?
	`, id)
	c, err := scanElementComment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("element comment %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select element comment %d: %w", id, err)
	}
	return c, nil
}

func setElementCommentDeletedAt(ctx context.Context, q dbtx, id int64, deletedAt *time.Time) (*model.ElementComment, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE element_comment SET deleted_at = ?, updated_at = ? WHERE id = ?
	`, fmtNullTime(deletedAt), model.FormatTime(model.Now()), id)
	if err != nil {
		return nil, fmt.Errorf("failed to set comment %d deleted_at: %w", id, err)
	}
	if err := requireAffected(res, "element comment", id); err != nil {
		return nil, err
	}
	return selectElementCommentByID(ctx, q, id)
}

func countLiveElementComments(ctx context.Context, q dbtx, elementID int64) (int64, error) {
	var n int64
	err := q.QueryRowContext(ctx, `
		SELECT count(*) FROM element_comment
		WHERE element_id = ? AND deleted_at IS NULL
	`, elementID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count comments for element %d: %w", elementID, err)
	}
	return n, nil
}

// InsertElementComment adds a live comment to a live element.
func (s *Store) InsertElementComment(ctx context.Context, elementID int64, comment string) (*model.ElementComment, error) {
	return insertElementComment(ctx, s.db, elementID, comment, false)
}

// InsertPendingElementComment adds a comment in the tombstoned state used by
// the paywall: invisible until its invoice settles and publication undeletes
// it.
func (s *Store) InsertPendingElementComment(ctx context.Context, elementID int64, comment string) (*model.ElementComment, error) {
	return insertElementComment(ctx, s.db, elementID, comment, true)
}

// SelectElementCommentByID returns the comment regardless of deletion state.
func (s *Store) SelectElementCommentByID(ctx context.Context, id int64) (*model.ElementComment, error) {
	return selectElementCommentByID(ctx, s.db, id)
}

func (t *Tx) SelectElementCommentByID(ctx context.Context, id int64) (*model.ElementComment, error) {
	return selectElementCommentByID(ctx, t.tx, id)
}

// SelectElementCommentsUpdatedSince is the comment sync feed.
func (s *Store) SelectElementCommentsUpdatedSince(ctx context.Context, since time.Time, limit int64) ([]*model.ElementComment, error) {
	if limit <= 0 {
		limit = DefaultFeedLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+elementCommentCols+` FROM element_comment
		WHERE updated_at > ?
		ORDER BY updated_at, id
		LIMIT ?
	`, model.FormatTime(since), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select comments feed: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*model.ElementComment
	for rows.Next() {
		c, err := scanElementComment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan element comment: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read element comments: %w", err)
	}
	return out, nil
}

// SetElementCommentDeletedAt tombstones or publishes (resurrects) a comment.
func (s *Store) SetElementCommentDeletedAt(ctx context.Context, id int64, deletedAt *time.Time) (*model.ElementComment, error) {
	return setElementCommentDeletedAt(ctx, s.db, id, deletedAt)
}

func (t *Tx) SetElementCommentDeletedAt(ctx context.Context, id int64, deletedAt *time.Time) (*model.ElementComment, error) {
	return setElementCommentDeletedAt(ctx, t.tx, id, deletedAt)
}

// CountLiveElementComments returns the number of published comments on an
// element, the value the comments tag mirrors.
func (s *Store) CountLiveElementComments(ctx context.Context, elementID int64) (int64, error) {
	return countLiveElementComments(ctx, s.db, elementID)
}

func (t *Tx) CountLiveElementComments(ctx context.Context, elementID int64) (int64, error) {
	return countLiveElementComments(ctx, t.tx, elementID)
}
