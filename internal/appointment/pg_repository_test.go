package appointment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/availability-booking/internal/config"
	"github.com/hackgods/availability-booking/internal/db"
	redisclient "github.com/hackgods/availability-booking/internal/redis"
)

// newPgFixture runs the service against a real Postgres. Each fixture uses a
// fresh provider and fresh patients so runs never collide on a shared
// database.
func newPgFixture(t *testing.T) (*fixture, *PgRepository) {
	t.Helper()

	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	pool, err := db.ConnectPostgres(ctx, dsn, 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = db.NewMigrator(pool, db.Migrations()).Up(ctx)
	require.NoError(t, err)

	repo := NewPgRepository(pool)
	clock := &fakeClock{now: fixedNow}
	refs := &scriptedReferences{}

	svc := NewService(repo, redisclient.NewLocalLocker(5*time.Second), config.Config{
		OperationTimeout:  5 * time.Second,
		ReferenceAttempts: 3,
		RecurrenceHorizon: 366 * 24 * time.Hour,
	}, WithClock(clock), WithReferenceFunc(refs.nextUnique))

	f := &fixture{svc: svc, clock: clock, refs: refs}
	f.provider = Provider{ID: uuid.New(), FirstName: "Kofi", LastName: "Boateng", Specialization: "ent"}
	insertPgProvider(t, pool, f.provider)
	for range 4 {
		p := Patient{ID: uuid.New(), FirstName: "Pat", LastName: "Pg"}
		insertPgPatient(t, pool, p)
		f.patients = append(f.patients, p)
	}
	return f, repo
}

func insertPgProvider(t *testing.T, pool *pgxpool.Pool, p Provider) {
	t.Helper()
	_, err := pool.Exec(context.Background(), `
		INSERT INTO providers (id, first_name, last_name, specialization, email)
		VALUES ($1, $2, $3, $4, $5)
	`, p.ID, p.FirstName, p.LastName, p.Specialization, p.ID.String()+"@provider.test")
	require.NoError(t, err)
}

func insertPgPatient(t *testing.T, pool *pgxpool.Pool, p Patient) {
	t.Helper()
	_, err := pool.Exec(context.Background(), `
		INSERT INTO patients (id, first_name, last_name, email)
		VALUES ($1, $2, $3, $4)
	`, p.ID, p.FirstName, p.LastName, p.ID.String()+"@patient.test")
	require.NoError(t, err)
}

// nextUnique serves queued references first, then random ones, so repeated
// runs against one database do not collide by accident.
func (s *scriptedReferences) nextUnique(now time.Time) (string, error) {
	s.mu.Lock()
	if len(s.queue) > 0 {
		ref := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		return ref, nil
	}
	s.mu.Unlock()
	return NewBookingReference(now)
}

func TestPgRepository_ConcurrentBookExactlyOneWins(t *testing.T) {
	f, _ := newPgFixture(t)
	slots := f.createSlots(t, simpleInput("2030-03-04", "09:00", "09:30"))
	ctx := context.Background()

	const n = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		refused int
		other   []error
	)
	start := make(chan struct{})

	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.svc.Book(ctx, f.patient(i%len(f.patients)), slots[0].ID, "")

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrSlotNotAvailable):
				refused++
			default:
				other = append(other, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Empty(t, other)
	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, refused)
}

func TestPgRepository_TransitionRejectedVersusNotFound(t *testing.T) {
	f, repo := newPgFixture(t)
	slots := f.createSlots(t, simpleInput("2030-03-04", "09:00", "10:00"))
	ctx := context.Background()

	_, err := f.svc.Book(ctx, f.patient(0), slots[0].ID, "")
	require.NoError(t, err)

	ref := "APT-20300301-" + randomSuffix()
	patient := f.patient(1)
	_, err = repo.TransitionSlot(ctx, SlotTransition{
		SlotID: slots[0].ID, From: SlotAvailable, To: SlotBooked,
		Patient: &patient, BookingReference: &ref, At: fixedNow,
	})
	assert.ErrorIs(t, err, ErrTransitionRejected)

	_, err = repo.TransitionSlot(ctx, SlotTransition{
		SlotID: uuid.New(), From: SlotAvailable, To: SlotBooked,
		Patient: &patient, BookingReference: &ref, At: fixedNow,
	})
	assert.ErrorIs(t, err, ErrSlotNotFound)
}

func TestPgRepository_ReferenceCollision(t *testing.T) {
	f, repo := newPgFixture(t)
	slots := f.createSlots(t, simpleInput("2030-03-04", "09:00", "10:30"))
	ctx := context.Background()

	taken := "APT-20300301-" + randomSuffix()
	f.refs.queue = []string{taken}
	_, err := f.svc.Book(ctx, f.patient(0), slots[0].ID, "")
	require.NoError(t, err)

	patient := f.patient(1)
	_, err = repo.TransitionSlot(ctx, SlotTransition{
		SlotID: slots[1].ID, From: SlotAvailable, To: SlotBooked,
		Patient: &patient, BookingReference: &taken, At: fixedNow,
	})
	assert.ErrorIs(t, err, ErrReferenceCollision)

	// retried inside one booking
	f.refs.queue = []string{taken}
	conf, err := f.svc.Book(ctx, f.patient(1), slots[1].ID, "")
	require.NoError(t, err)
	assert.NotEqual(t, taken, conf.BookingReference)

	// inside the reschedule transaction the collision rolls back to a
	// savepoint and the release of the current slot survives
	f.refs.queue = []string{taken}
	res, err := f.svc.Reschedule(ctx, f.patient(1), slots[1].ID, slots[2].ID, "")
	require.NoError(t, err)
	assert.NotEqual(t, taken, res.BookingReference)

	released, err := repo.GetSlot(ctx, slots[1].ID)
	require.NoError(t, err)
	assert.Equal(t, SlotAvailable, released.Status)

	moved, err := repo.GetSlot(ctx, slots[2].ID)
	require.NoError(t, err)
	assert.True(t, moved.BookedBy(f.patient(1)))
}

func TestPgRepository_OverlapRejected(t *testing.T) {
	f, _ := newPgFixture(t)
	f.createSlots(t, simpleInput("2030-03-04", "09:00", "10:00"))

	_, err := f.svc.CreateAvailability(context.Background(), f.provider.ID, simpleInput("2030-03-04", "09:30", "10:30"))
	assert.ErrorIs(t, err, ErrSlotOverlap)
}

func randomSuffix() string {
	return fmt.Sprintf("%08X", uuid.New().ID())
}
