package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/untoldecay/btcmap/internal/model"
)

const reportCols = "id, area_id, date, tags, created_at, updated_at, deleted_at"

func scanReport(sc scanner) (*model.Report, error) {
	var (
		r         model.Report
		tags      []byte
		createdAt string
		updatedAt string
		deletedAt sql.NullString
	)
	if err := sc.Scan(&r.ID, &r.AreaID, &r.Date, &tags, &createdAt, &updatedAt, &deletedAt); err != nil {
		return nil, err
	}
	var err error
	if r.Tags, err = model.DecodeTags(tags); err != nil {
		return nil, err
	}
	if r.CreatedAt, err = parseRowTime(createdAt); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = parseRowTime(updatedAt); err != nil {
		return nil, err
	}
	if r.DeletedAt, err = parseNullTime(deletedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

// InsertReport records one area's daily aggregate. A second insert for the
// same (area, date) fails the UNIQUE constraint; callers treat that as
// already-generated.
func (s *Store) InsertReport(ctx context.Context, areaID int64, date string, tags model.Tags) (*model.Report, error) {
	raw, err := tags.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to insert report: %w", err)
	}
	now := model.FormatTime(model.Now())
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO report (area_id, date, tags, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, areaID, date, raw, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert report: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get inserted report id: %w", err)
	}
	return s.SelectReportByID(ctx, id)
}

// SelectReportByID returns one report.
func (s *Store) SelectReportByID(ctx context.Context, id int64) (*model.Report, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+reportCols+` FROM report WHERE id = ?
	`, id)
	r, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("report %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select report %d: %w", id, err)
	}
	return r, nil
}

// SelectReportByAreaDate returns the report for (area, date) if present.
func (s *Store) SelectReportByAreaDate(ctx context.Context, areaID int64, date string) (*model.Report, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+reportCols+` FROM report WHERE area_id = ? AND date = ?
	`, areaID, date)
	r, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("report for area %d on %s: %w", areaID, date, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select report for area %d: %w", areaID, err)
	}
	return r, nil
}

// SelectReportsUpdatedSince is the report sync feed.
func (s *Store) SelectReportsUpdatedSince(ctx context.Context, since time.Time, limit int64) ([]*model.Report, error) {
	if limit <= 0 {
		limit = DefaultFeedLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+reportCols+` FROM report
		WHERE updated_at > ?
		ORDER BY updated_at, id
		LIMIT ?
	`, model.FormatTime(since), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select reports feed: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*model.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read reports: %w", err)
	}
	return out, nil
}
