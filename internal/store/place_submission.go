package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/untoldecay/btcmap/internal/model"
)

const placeSubmissionCols = "id, origin, external_id, lat, lon, category, name, extra, ticket_url, revoked, closed_at, created_at, updated_at, deleted_at"

func scanPlaceSubmission(sc scanner) (*model.PlaceSubmission, error) {
	var (
		p         model.PlaceSubmission
		extra     []byte
		ticketURL sql.NullString
		revoked   int64
		closedAt  sql.NullString
		createdAt string
		updatedAt string
		deletedAt sql.NullString
	)
	if err := sc.Scan(&p.ID, &p.Origin, &p.ExternalID, &p.Lat, &p.Lon, &p.Category, &p.Name,
		&extra, &ticketURL, &revoked, &closedAt, &createdAt, &updatedAt, &deletedAt); err != nil {
		return nil, err
	}
	var err error
	if p.Extra, err = model.DecodeTags(extra); err != nil {
		return nil, err
	}
	p.TicketURL = ticketURL.String
	p.Revoked = revoked != 0
	if p.ClosedAt, err = parseNullTime(closedAt); err != nil {
		return nil, err
	}
	if p.CreatedAt, err = parseRowTime(createdAt); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseRowTime(updatedAt); err != nil {
		return nil, err
	}
	if p.DeletedAt, err = parseNullTime(deletedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func selectPlaceSubmissionByID(ctx context.Context, q dbtx, id int64) (*model.PlaceSubmission, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+placeSubmissionCols+` FROM place_submission WHERE id = ?
	`, id)
	p, err := scanPlaceSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("place submission %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select place submission %d: %w", id, err)
	}
	return p, nil
}

// InsertPlaceSubmission records a candidate place. A duplicate
// (origin, external_id) fails the UNIQUE constraint.
func (s *Store) InsertPlaceSubmission(ctx context.Context, sub *model.PlaceSubmission) (*model.PlaceSubmission, error) {
	extra, err := sub.Extra.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to insert place submission: %w", err)
	}
	now := model.FormatTime(model.Now())
	var ticketURL any
	if sub.TicketURL != "" {
		ticketURL = sub.TicketURL
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO place_submission (origin, external_id, lat, lon, category, name, extra, ticket_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sub.Origin, sub.ExternalID, sub.Lat, sub.Lon, sub.Category, sub.Name, extra, ticketURL, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert place submission: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get inserted submission id: %w", err)
	}
	return selectPlaceSubmissionByID(ctx, s.db, id)
}

// SelectPlaceSubmissionByID returns one submission.
func (s *Store) SelectPlaceSubmissionByID(ctx context.Context, id int64) (*model.PlaceSubmission, error) {
	return selectPlaceSubmissionByID(ctx, s.db, id)
}

// SelectPlaceSubmissionByOrigin resolves a submission by its source identity.
func (s *Store) SelectPlaceSubmissionByOrigin(ctx context.Context, origin, externalID string) (*model.PlaceSubmission, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+placeSubmissionCols+` FROM place_submission
		WHERE origin = ? AND external_id = ?
	`, origin, externalID)
	p, err := scanPlaceSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("place submission %s/%s: %w", origin, externalID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select place submission %s/%s: %w", origin, externalID, err)
	}
	return p, nil
}

// SelectOpenPlaceSubmissions returns submissions still under review: not
// revoked, not closed, not tombstoned.
func (s *Store) SelectOpenPlaceSubmissions(ctx context.Context) ([]*model.PlaceSubmission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+placeSubmissionCols+` FROM place_submission
		WHERE revoked = 0 AND closed_at IS NULL AND deleted_at IS NULL
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to select open submissions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*model.PlaceSubmission
	for rows.Next() {
		p, err := scanPlaceSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan place submission: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read place submissions: %w", err)
	}
	return out, nil
}

// SetPlaceSubmissionRevoked marks or unmarks withdrawal by the source.
func (s *Store) SetPlaceSubmissionRevoked(ctx context.Context, id int64, revoked bool) (*model.PlaceSubmission, error) {
	v := 0
	if revoked {
		v = 1
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE place_submission SET revoked = ?, updated_at = ? WHERE id = ?
	`, v, model.FormatTime(model.Now()), id)
	if err != nil {
		return nil, fmt.Errorf("failed to set submission %d revoked: %w", id, err)
	}
	if err := requireAffected(res, "place submission", id); err != nil {
		return nil, err
	}
	return selectPlaceSubmissionByID(ctx, s.db, id)
}

// SetPlaceSubmissionClosedAt ends (non-nil) or reopens review.
func (s *Store) SetPlaceSubmissionClosedAt(ctx context.Context, id int64, closedAt *time.Time) (*model.PlaceSubmission, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE place_submission SET closed_at = ?, updated_at = ? WHERE id = ?
	`, fmtNullTime(closedAt), model.FormatTime(model.Now()), id)
	if err != nil {
		return nil, fmt.Errorf("failed to set submission %d closed_at: %w", id, err)
	}
	if err := requireAffected(res, "place submission", id); err != nil {
		return nil, err
	}
	return selectPlaceSubmissionByID(ctx, s.db, id)
}

// SetPlaceSubmissionTicketURL records the review ticket opened for the
// submission.
func (s *Store) SetPlaceSubmissionTicketURL(ctx context.Context, id int64, ticketURL string) (*model.PlaceSubmission, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE place_submission SET ticket_url = ?, updated_at = ? WHERE id = ?
	`, ticketURL, model.FormatTime(model.Now()), id)
	if err != nil {
		return nil, fmt.Errorf("failed to set submission %d ticket url: %w", id, err)
	}
	if err := requireAffected(res, "place submission", id); err != nil {
		return nil, err
	}
	return selectPlaceSubmissionByID(ctx, s.db, id)
}
