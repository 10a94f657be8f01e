package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/availability-booking/internal/db"
)

type PgRepository struct {
	pool    *pgxpool.Pool
	dialect goqu.DialectWrapper
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool, dialect: goqu.Dialect("postgres")}
}

var slotColumns = []string{
	"id", "availability_id", "provider_id", "slot_start_time", "slot_end_time", "timezone",
	"status", "patient_id", "appointment_type", "booking_reference", "notes",
	"cancellation_reason", "created_at", "updated_at",
}

var slotSelect = strings.Join(slotColumns, ", ")

func columns(prefix string, cols []string) []any {
	out := make([]any, len(cols))
	for i, c := range cols {
		out[i] = prefix + "." + c
	}
	return out
}

// Helpers

func (r *PgRepository) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func slotDest(s *AppointmentSlot) []any {
	return []any{
		&s.ID,
		&s.AvailabilityID,
		&s.ProviderID,
		&s.StartTime,
		&s.EndTime,
		&s.Timezone,
		&s.Status,
		&s.PatientID,
		&s.AppointmentType,
		&s.BookingReference,
		&s.Notes,
		&s.CancellationReason,
		&s.CreatedAt,
		&s.UpdatedAt,
	}
}

func scanSlot(row pgx.Row) (*AppointmentSlot, error) {
	var s AppointmentSlot
	if err := row.Scan(slotDest(&s)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}
	return &s, nil
}

func scanAvailability(row pgx.Row) (*ProviderAvailability, error) {
	var a ProviderAvailability
	var start, end string

	err := row.Scan(
		&a.ID,
		&a.ProviderID,
		&a.Date,
		&start,
		&end,
		&a.Timezone,
		&a.SlotDuration,
		&a.BreakDuration,
		&a.IsRecurring,
		&a.RecurrencePattern,
		&a.RecurrenceEndDate,
		&a.AppointmentType,
		&a.Location,
		&a.Pricing,
		&a.SpecialRequirements,
		&a.Capacity,
		&a.Notes,
		&a.SupersededBy,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAvailabilityNotFound
		}
		return nil, err
	}

	if a.StartTime, err = ParseTimeOfDay(start); err != nil {
		return nil, err
	}
	if a.EndTime, err = ParseTimeOfDay(end); err != nil {
		return nil, err
	}
	return &a, nil
}

// mapPgError translates constraint violations into domain errors.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23P01": // exclusion_violation
		return fmt.Errorf("%w: %s", ErrSlotOverlap, pgErr.Detail)
	case "23505": // unique_violation
		if pgErr.ConstraintName == "slot_booking_reference_key" {
			return ErrReferenceCollision
		}
	case "23503": // foreign_key_violation
		switch {
		case strings.Contains(pgErr.ConstraintName, "provider"):
			return ErrProviderNotFound
		case strings.Contains(pgErr.ConstraintName, "patient"):
			return ErrPatientNotFound
		}
	}
	return err
}

// Interface methods

func (r *PgRepository) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.WithTx(ctx, r.pool, fn)
}

func (r *PgRepository) GetProvider(ctx context.Context, id uuid.UUID) (*Provider, error) {
	var p Provider
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, first_name, last_name, specialization, email, created_at
		FROM providers
		WHERE id = $1
	`, id).Scan(&p.ID, &p.FirstName, &p.LastName, &p.Specialization, &p.Email, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProviderNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PgRepository) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, first_name, last_name, email, created_at
		FROM patients
		WHERE id = $1
	`, id).Scan(&p.ID, &p.FirstName, &p.LastName, &p.Email, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PgRepository) GetSlot(ctx context.Context, id uuid.UUID) (*AppointmentSlot, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT `+slotSelect+`
		FROM appointment_slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func (r *PgRepository) GetAvailability(ctx context.Context, id uuid.UUID) (*ProviderAvailability, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT id, provider_id, date, to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'),
		       timezone, slot_duration, break_duration, is_recurring, recurrence_pattern,
		       recurrence_end_date, appointment_type, location, pricing, special_requirements,
		       capacity, notes, superseded_by, created_at, updated_at
		FROM provider_availability
		WHERE id = $1
	`, id)
	return scanAvailability(row)
}

// LockProviderSchedule takes a transaction-scoped advisory lock on the
// provider so concurrent availability creations check overlap one at a time.
func (r *PgRepository) LockProviderSchedule(ctx context.Context, providerID uuid.UUID) error {
	tx := db.TxFromContext(ctx)
	if tx == nil {
		return errors.New("provider schedule lock needs a transaction")
	}
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, providerID.String())
	return err
}

func (r *PgRepository) FindOverlappingSlot(ctx context.Context, providerID uuid.UUID, slots []AppointmentSlot) (*AppointmentSlot, error) {
	starts := make([]time.Time, len(slots))
	ends := make([]time.Time, len(slots))
	for i, s := range slots {
		starts[i], ends[i] = s.StartTime, s.EndTime
	}

	row := r.conn(ctx).QueryRow(ctx, `
		SELECT `+slotSelect+`
		FROM appointment_slots s
		WHERE s.provider_id = $1
		  AND s.status IN ('available', 'booked')
		  AND EXISTS (
		      SELECT 1
		      FROM unnest($2::timestamptz[], $3::timestamptz[]) AS n(start_at, end_at)
		      WHERE s.slot_start_time < n.end_at AND s.slot_end_time > n.start_at
		  )
		ORDER BY s.slot_start_time
		LIMIT 1
	`, providerID, starts, ends)

	slot, err := scanSlot(row)
	if errors.Is(err, ErrSlotNotFound) {
		return nil, nil
	}
	return slot, err
}

func (r *PgRepository) InsertAvailability(ctx context.Context, av *ProviderAvailability, slots []AppointmentSlot) error {
	q := r.conn(ctx)

	requirements := av.SpecialRequirements
	if requirements == nil {
		requirements = []string{}
	}

	_, err := q.Exec(ctx, `
		INSERT INTO provider_availability (
			id, provider_id, date, start_time, end_time, timezone, slot_duration, break_duration,
			is_recurring, recurrence_pattern, recurrence_end_date, appointment_type, location,
			pricing, special_requirements, capacity, notes, created_at, updated_at
		) VALUES ($1, $2, $3, $4::time, $5::time, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $18)
	`,
		av.ID, av.ProviderID, av.Date, av.StartTime.String(), av.EndTime.String(), av.Timezone,
		av.SlotDuration, av.BreakDuration, av.IsRecurring, string(av.RecurrencePattern),
		av.RecurrenceEndDate, string(av.AppointmentType), av.Location, av.Pricing, requirements,
		av.Capacity, av.Notes, av.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert availability: %w", mapPgError(err))
	}

	rows := make([][]any, len(slots))
	for i, s := range slots {
		rows[i] = []any{
			s.ID, s.AvailabilityID, s.ProviderID, s.StartTime, s.EndTime, s.Timezone,
			string(s.Status), s.PatientID, string(s.AppointmentType), s.BookingReference,
			s.Notes, s.CancellationReason, s.CreatedAt, s.UpdatedAt,
		}
	}

	if _, err := q.CopyFrom(ctx, pgx.Identifier{"appointment_slots"}, slotColumns, pgx.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("insert slots: %w", mapPgError(err))
	}
	return nil
}

func (r *PgRepository) ListProviderSlots(ctx context.Context, f ProviderSlotFilter) ([]AppointmentSlot, error) {
	ds := r.dialect.From("appointment_slots").Prepared(true).
		Select(columns("appointment_slots", slotColumns)...).
		Where(
			goqu.C("provider_id").Eq(f.ProviderID.String()),
			goqu.C("slot_start_time").Gte(f.StartFrom),
			goqu.C("slot_start_time").Lt(f.StartBefore),
		)
	if f.Status != nil {
		ds = ds.Where(goqu.C("status").Eq(string(*f.Status)))
	}
	if f.Type != nil {
		ds = ds.Where(goqu.C("appointment_type").Eq(string(*f.Type)))
	}
	ds = ds.Order(goqu.C("slot_start_time").Asc(), goqu.C("id").Asc())

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build provider slot query: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AppointmentSlot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	return result, rows.Err()
}

func (r *PgRepository) ListPatientAppointments(ctx context.Context, f PatientSlotFilter, after *PageCursor, limit int) ([]PatientAppointment, error) {
	cols := append(columns("s", slotColumns),
		"p.id", "p.first_name", "p.last_name", "p.specialization", "p.email", "p.created_at")

	ds := r.dialect.From(goqu.T("appointment_slots").As("s")).Prepared(true).
		Join(goqu.T("providers").As("p"), goqu.On(goqu.I("p.id").Eq(goqu.I("s.provider_id")))).
		Select(cols...).
		Where(goqu.I("s.patient_id").Eq(f.PatientID.String()))

	if f.Status != nil {
		ds = ds.Where(goqu.I("s.status").Eq(string(*f.Status)))
	}
	if f.ProviderID != nil {
		ds = ds.Where(goqu.I("s.provider_id").Eq(f.ProviderID.String()))
	}
	if f.StartFrom != nil {
		ds = ds.Where(goqu.I("s.slot_start_time").Gte(*f.StartFrom))
	}
	if f.StartBefore != nil {
		ds = ds.Where(goqu.I("s.slot_start_time").Lt(*f.StartBefore))
	}
	if after != nil {
		ds = ds.Where(goqu.Or(
			goqu.I("s.slot_start_time").Lt(after.StartTime),
			goqu.And(
				goqu.I("s.slot_start_time").Eq(after.StartTime),
				goqu.I("s.id").Lt(after.ID.String()),
			),
		))
	}

	ds = ds.Order(goqu.I("s.slot_start_time").Desc(), goqu.I("s.id").Desc())
	if limit > 0 {
		ds = ds.Limit(uint(limit))
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build patient appointment query: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []PatientAppointment
	for rows.Next() {
		var a PatientAppointment
		dest := append(slotDest(&a.Slot),
			&a.Provider.ID, &a.Provider.FirstName, &a.Provider.LastName,
			&a.Provider.Specialization, &a.Provider.Email, &a.Provider.CreatedAt)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// TransitionSlot is a single conditional UPDATE. Inside a transaction it runs
// under a savepoint so a reference collision leaves the outer work usable.
func (r *PgRepository) TransitionSlot(ctx context.Context, t SlotTransition) (*AppointmentSlot, error) {
	var out *AppointmentSlot
	run := func(ctx context.Context) error {
		row := r.conn(ctx).QueryRow(ctx, `
			UPDATE appointment_slots
			SET status = $2,
			    patient_id = $3,
			    booking_reference = $4,
			    notes = $5,
			    cancellation_reason = $6,
			    updated_at = $7
			WHERE id = $1
			  AND status = $8
			  AND ($9::uuid IS NULL OR patient_id = $9)
			  AND ($10::uuid IS NULL OR provider_id = $10)
			  AND ($11::timestamptz IS NULL OR slot_start_time > $11)
			RETURNING `+slotSelect,
			t.SlotID, string(t.To), t.Patient, t.BookingReference, t.Notes, t.CancellationReason,
			t.At, string(t.From), t.BoundPatient, t.Provider, nullableTime(t.StartsAfter),
		)

		slot, err := scanSlot(row)
		if err != nil {
			return mapPgError(err)
		}
		out = slot
		return nil
	}

	var err error
	if db.TxFromContext(ctx) != nil {
		err = db.WithTx(ctx, r.pool, run)
	} else {
		err = run(ctx)
	}

	if errors.Is(err, ErrSlotNotFound) {
		var exists bool
		if qerr := r.conn(ctx).QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM appointment_slots WHERE id = $1)`, t.SlotID,
		).Scan(&exists); qerr != nil {
			return nil, qerr
		}
		if exists {
			return nil, ErrTransitionRejected
		}
		return nil, ErrSlotNotFound
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev SlotEvent) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO slot_events (event_type, slot_id, availability_id, payload, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`, ev.EventType, ev.SlotID, ev.AvailabilityID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert slot event: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
