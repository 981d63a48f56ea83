package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"shareit/internal/domain"
	"shareit/internal/models"
)

const bookingColumns = `id, item_id, booker_id, owner_id, start_at, end_at, status, created_at, updated_at, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var (
		b                             models.Booking
		start, end, created, modified int64
	)
	if err := row.Scan(&b.ID, &b.ItemID, &b.BookerID, &b.OwnerID, &start, &end,
		&b.Status, &created, &modified, &b.Version); err != nil {
		return nil, err
	}
	b.Start = fromUnix(start)
	b.End = fromUnix(end)
	b.CreatedAt = fromUnix(created)
	b.UpdatedAt = fromUnix(modified)
	return &b, nil
}

// CreateBookingWithLock checks the item's overlap set and inserts the booking
// inside one immediate transaction. An overlap yields ErrIntervalReserved; a
// busy database yields ErrConflict.
func (db *DB) CreateBookingWithLock(ctx context.Context, booking *models.Booking) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return mapError("begin booking transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var overlapping int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bookings
		 WHERE item_id = ? AND status IN (?, ?) AND start_at < ? AND end_at > ?`,
		booking.ItemID, models.StatusWaiting, models.StatusApproved,
		booking.End.Unix(), booking.Start.Unix(),
	).Scan(&overlapping)
	if err != nil {
		return mapError("check overlap", err)
	}
	if overlapping > 0 {
		return domain.ErrIntervalReserved
	}

	if booking.Status == "" {
		booking.Status = models.StatusWaiting
	}
	if booking.CreatedAt.IsZero() {
		booking.CreatedAt = models.Truncate(time.Now())
	}
	booking.UpdatedAt = booking.CreatedAt
	booking.Version = 1

	result, err := tx.ExecContext(ctx,
		`INSERT INTO bookings (item_id, booker_id, owner_id, start_at, end_at, status, created_at, updated_at, version)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		booking.ItemID, booking.BookerID, booking.OwnerID,
		booking.Start.Unix(), booking.End.Unix(), booking.Status,
		booking.CreatedAt.Unix(), booking.UpdatedAt.Unix(), booking.Version,
	)
	if err != nil {
		return mapError("insert booking", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return mapError("commit booking", err)
	}
	booking.ID = id
	return nil
}

func (db *DB) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	row := db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundf("booking %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return b, nil
}

// UpdateBookingStatusWithVersion moves a booking to status only if its
// version is still fromVersion.
func (db *DB) UpdateBookingStatusWithVersion(ctx context.Context, id, fromVersion int64, status string) error {
	result, err := db.ExecContext(ctx,
		`UPDATE bookings SET status = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?`,
		status, time.Now().Unix(), id, fromVersion)
	if err != nil {
		return mapError("update booking status", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows == 0 {
		return domain.ErrConcurrentModification
	}
	return nil
}

// ListBookings returns one page of the subject's bookings filtered by state,
// newest start first.
func (db *DB) ListBookings(ctx context.Context, q models.BookingQuery) ([]*models.Booking, error) {
	subject, subjectID, err := subjectColumn(q)
	if err != nil {
		return nil, err
	}
	pred, args, err := statePredicate(q.State, q.Now)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE ` + subject + ` = ? AND ` + pred +
		` ORDER BY start_at DESC, id DESC LIMIT ? OFFSET ?`
	params := append([]any{subjectID}, args...)
	params = append(params, q.Limit, q.Offset)

	rows, err := db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	defer rows.Close()

	bookings := make([]*models.Booking, 0, q.Limit)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bookings: %w", err)
	}
	return bookings, nil
}

func (db *DB) HasCompletedRental(ctx context.Context, bookerID, itemID int64, now time.Time) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM bookings WHERE booker_id = ? AND item_id = ? AND end_at < ?)`,
		bookerID, itemID, now.Unix()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check completed rental: %w", err)
	}
	return exists, nil
}

func subjectColumn(q models.BookingQuery) (string, int64, error) {
	switch {
	case q.BookerID != 0 && q.OwnerID == 0:
		return "booker_id", q.BookerID, nil
	case q.OwnerID != 0 && q.BookerID == 0:
		return "owner_id", q.OwnerID, nil
	default:
		return "", 0, errors.New("booking query needs exactly one of booker or owner")
	}
}
