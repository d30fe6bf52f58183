package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/untoldecay/btcmap/internal/model"
)

const elementIssueCols = "id, element_id, code, severity, created_at, updated_at, deleted_at"

func scanElementIssue(sc scanner) (*model.ElementIssue, error) {
	var (
		i         model.ElementIssue
		createdAt string
		updatedAt string
		deletedAt sql.NullString
	)
	if err := sc.Scan(&i.ID, &i.ElementID, &i.Code, &i.Severity, &createdAt, &updatedAt, &deletedAt); err != nil {
		return nil, err
	}
	var err error
	if i.CreatedAt, err = parseRowTime(createdAt); err != nil {
		return nil, err
	}
	if i.UpdatedAt, err = parseRowTime(updatedAt); err != nil {
		return nil, err
	}
	if i.DeletedAt, err = parseNullTime(deletedAt); err != nil {
		return nil, err
	}
	return &i, nil
}

func insertElementIssue(ctx context.Context, q dbtx, elementID int64, code string, severity int64) (*model.ElementIssue, error) {
	now := model.FormatTime(model.Now())
	res, err := q.ExecContext(ctx, `
		INSERT INTO element_issue (element_id, code, severity, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, elementID, code, severity, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert element issue: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get inserted issue id: %w", err)
	}
	return selectElementIssueByID(ctx, q, id)
}

func selectElementIssueByID(ctx context.Context, q dbtx, id int64) (*model.ElementIssue, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+elementIssueCols+` FROM element_issue WHERE id = ?
	`, id)
	i, err := scanElementIssue(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("element issue %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select element issue %d: %w", id, err)
	}
	return i, nil
}

func selectElementIssuesByElement(ctx context.Context, q dbtx, elementID int64) ([]*model.ElementIssue, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+elementIssueCols+` FROM element_issue WHERE element_id = ? ORDER BY id
	`, elementID)
	if err != nil {
		return nil, fmt.Errorf("failed to select issues for element %d: %w", elementID, err)
	}
	return collectElementIssues(rows)
}

func setElementIssueDeletedAt(ctx context.Context, q dbtx, id int64, deletedAt *time.Time) (*model.ElementIssue, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE element_issue SET deleted_at = ?, updated_at = ? WHERE id = ?
	`, fmtNullTime(deletedAt), model.FormatTime(model.Now()), id)
	if err != nil {
		return nil, fmt.Errorf("failed to set issue %d deleted_at: %w", id, err)
	}
	if err := requireAffected(res, "element issue", id); err != nil {
		return nil, err
	}
	return selectElementIssueByID(ctx, q, id)
}

func collectElementIssues(rows *sql.Rows) ([]*model.ElementIssue, error) {
	defer func() { _ = rows.Close() }()
	var out []*model.ElementIssue
	for rows.Next() {
		i, err := scanElementIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan element issue: %w", err)
		}
		out = append(out, i)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read element issues: %w", err)
	}
	return out, nil
}

// InsertElementIssue records a quality finding.
func (s *Store) InsertElementIssue(ctx context.Context, elementID int64, code string, severity int64) (*model.ElementIssue, error) {
	return insertElementIssue(ctx, s.db, elementID, code, severity)
}

func (t *Tx) InsertElementIssue(ctx context.Context, elementID int64, code string, severity int64) (*model.ElementIssue, error) {
	return insertElementIssue(ctx, t.tx, elementID, code, severity)
}

// SelectElementIssueByID returns one issue row.
func (s *Store) SelectElementIssueByID(ctx context.Context, id int64) (*model.ElementIssue, error) {
	return selectElementIssueByID(ctx, s.db, id)
}

// SelectElementIssuesByElement returns every issue row for an element,
// tombstoned ones included, so the generator can reinstate instead of
// duplicating.
func (s *Store) SelectElementIssuesByElement(ctx context.Context, elementID int64) ([]*model.ElementIssue, error) {
	return selectElementIssuesByElement(ctx, s.db, elementID)
}

func (t *Tx) SelectElementIssuesByElement(ctx context.Context, elementID int64) ([]*model.ElementIssue, error) {
	return selectElementIssuesByElement(ctx, t.tx, elementID)
}

// SelectElementIssuesUpdatedSince is the issue sync feed.
func (s *Store) SelectElementIssuesUpdatedSince(ctx context.Context, since time.Time, limit int64) ([]*model.ElementIssue, error) {
	if limit <= 0 {
		limit = DefaultFeedLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+elementIssueCols+` FROM element_issue
		WHERE updated_at > ?
		ORDER BY updated_at, id
		LIMIT ?
	`, model.FormatTime(since), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select issues feed: %w", err)
	}
	return collectElementIssues(rows)
}

// SetElementIssueDeletedAt tombstones or reinstates an issue row.
func (s *Store) SetElementIssueDeletedAt(ctx context.Context, id int64, deletedAt *time.Time) (*model.ElementIssue, error) {
	return setElementIssueDeletedAt(ctx, s.db, id, deletedAt)
}

func (t *Tx) SetElementIssueDeletedAt(ctx context.Context, id int64, deletedAt *time.Time) (*model.ElementIssue, error) {
	return setElementIssueDeletedAt(ctx, t.tx, id, deletedAt)
}

// SweepIssuesOfDeletedElements tombstones every live issue whose element is
// itself tombstoned. Returns the number of swept rows.
func (s *Store) SweepIssuesOfDeletedElements(ctx context.Context) (int64, error) {
	now := model.FormatTime(model.Now())
	res, err := s.db.ExecContext(ctx, `
		UPDATE element_issue SET deleted_at = ?, updated_at = ?
		WHERE deleted_at IS NULL
		  AND element_id IN (SELECT id FROM element WHERE deleted_at IS NOT NULL)
	`, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep issues of deleted elements: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count swept issues: %w", err)
	}
	return n, nil
}
