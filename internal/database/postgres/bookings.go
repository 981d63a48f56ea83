package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shareit/internal/domain"
	"shareit/internal/models"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jackc/pgx/v5"
)

var bookingColumns = []any{
	"id", "item_id", "booker_id", "owner_id", "start_at", "end_at",
	"status", "created_at", "updated_at", "version",
}

func scanBooking(row pgx.Row) (*models.Booking, error) {
	var b models.Booking
	if err := row.Scan(&b.ID, &b.ItemID, &b.BookerID, &b.OwnerID, &b.Start, &b.End,
		&b.Status, &b.CreatedAt, &b.UpdatedAt, &b.Version); err != nil {
		return nil, err
	}
	b.Start = utc(b.Start)
	b.End = utc(b.End)
	b.CreatedAt = utc(b.CreatedAt)
	b.UpdatedAt = utc(b.UpdatedAt)
	return &b, nil
}

// CreateBookingWithLock checks the overlap set and inserts within one
// SERIALIZABLE transaction.
func (s *Store) CreateBookingWithLock(ctx context.Context, booking *models.Booking) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return mapError("begin booking transaction", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	overlapQuery, args, err := render(s.builder.From(tableBookings).Prepared(true).
		Select(goqu.L("1")).
		Where(
			goqu.C("item_id").Eq(booking.ItemID),
			goqu.C("status").In(models.OverlapStatuses()),
			goqu.C("start_at").Lt(booking.End),
			goqu.C("end_at").Gt(booking.Start),
		).
		Limit(1))
	if err != nil {
		return err
	}
	var one int
	err = tx.QueryRow(ctx, overlapQuery, args...).Scan(&one)
	switch {
	case err == nil:
		return domain.ErrIntervalReserved
	case !isNoRows(err):
		return mapError("check overlap", err)
	}

	if booking.Status == "" {
		booking.Status = models.StatusWaiting
	}
	if booking.CreatedAt.IsZero() {
		booking.CreatedAt = models.Truncate(time.Now())
	}
	booking.UpdatedAt = booking.CreatedAt
	booking.Version = 1

	insertQuery, args, err := render(s.builder.Insert(tableBookings).Prepared(true).
		Rows(goqu.Record{
			"item_id":    booking.ItemID,
			"booker_id":  booking.BookerID,
			"owner_id":   booking.OwnerID,
			"start_at":   booking.Start,
			"end_at":     booking.End,
			"status":     booking.Status,
			"created_at": booking.CreatedAt,
			"updated_at": booking.UpdatedAt,
			"version":    booking.Version,
		}).
		Returning("id"))
	if err != nil {
		return err
	}
	var id int64
	if err := tx.QueryRow(ctx, insertQuery, args...).Scan(&id); err != nil {
		return mapError("insert booking", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return mapError("commit booking", err)
	}
	booking.ID = id
	return nil
}

func (s *Store) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	query, args, err := render(s.builder.From(tableBookings).Prepared(true).
		Select(bookingColumns...).
		Where(goqu.C("id").Eq(id)))
	if err != nil {
		return nil, err
	}
	b, err := scanBooking(s.pool.QueryRow(ctx, query, args...))
	if isNoRows(err) {
		return nil, domain.NotFoundf("booking %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return b, nil
}

func (s *Store) UpdateBookingStatusWithVersion(ctx context.Context, id, fromVersion int64, status string) error {
	query, args, err := render(s.builder.Update(tableBookings).Prepared(true).
		Set(goqu.Record{
			"status":     status,
			"version":    goqu.L("version + 1"),
			"updated_at": time.Now().UTC(),
		}).
		Where(goqu.C("id").Eq(id), goqu.C("version").Eq(fromVersion)))
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return mapError("update booking status", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConcurrentModification
	}
	return nil
}

func (s *Store) ListBookings(ctx context.Context, q models.BookingQuery) ([]*models.Booking, error) {
	subject, err := subjectExpression(q)
	if err != nil {
		return nil, err
	}
	pred, err := statePredicate(q.State, q.Now)
	if err != nil {
		return nil, err
	}

	where := []exp.Expression{subject}
	if pred != nil {
		where = append(where, pred)
	}
	query, args, err := render(s.builder.From(tableBookings).Prepared(true).
		Select(bookingColumns...).
		Where(where...).
		Order(goqu.I("start_at").Desc(), goqu.I("id").Desc()).
		Limit(uint(q.Limit)).
		Offset(uint(q.Offset)))
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, query, args...)
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

func (s *Store) HasCompletedRental(ctx context.Context, bookerID, itemID int64, now time.Time) (bool, error) {
	query, args, err := render(s.builder.From(tableBookings).Prepared(true).
		Select(goqu.L("1")).
		Where(
			goqu.C("booker_id").Eq(bookerID),
			goqu.C("item_id").Eq(itemID),
			goqu.C("end_at").Lt(now),
		).
		Limit(1))
	if err != nil {
		return false, err
	}
	var one int
	err = s.pool.QueryRow(ctx, query, args...).Scan(&one)
	if isNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check completed rental: %w", err)
	}
	return true, nil
}

func subjectExpression(q models.BookingQuery) (exp.Expression, error) {
	switch {
	case q.BookerID != 0 && q.OwnerID == 0:
		return goqu.C("booker_id").Eq(q.BookerID), nil
	case q.OwnerID != 0 && q.BookerID == 0:
		return goqu.C("owner_id").Eq(q.OwnerID), nil
	default:
		return nil, errors.New("booking query needs exactly one of booker or owner")
	}
}

// statePredicate is the goqu rendition of models.BookingState.Matches. A nil
// expression means no filter.
func statePredicate(state models.BookingState, now time.Time) (exp.Expression, error) {
	switch state {
	case models.StateAll, "":
		return nil, nil
	case models.StateCurrent:
		return goqu.And(goqu.C("start_at").Lte(now), goqu.C("end_at").Gte(now)), nil
	case models.StatePast:
		return goqu.C("end_at").Lt(now), nil
	case models.StateFuture:
		return goqu.C("start_at").Gt(now), nil
	case models.StateWaiting:
		return goqu.C("status").Eq(models.StatusWaiting), nil
	case models.StateRejected:
		return goqu.C("status").Eq(models.StatusRejected), nil
	default:
		return nil, fmt.Errorf("unsupported booking state %q", state)
	}
}
