package appointment

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/availability-booking/internal/config"
	redisclient "github.com/hackgods/availability-booking/internal/redis"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// scriptedReferences returns the queued references in order, then unique
// generated ones.
type scriptedReferences struct {
	mu    sync.Mutex
	queue []string
	n     atomic.Int64
}

func (s *scriptedReferences) next(now time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) > 0 {
		ref := s.queue[0]
		s.queue = s.queue[1:]
		return ref, nil
	}
	return fmt.Sprintf("APT-%s-%08d", now.Format("20060102"), s.n.Add(1)), nil
}

type fixture struct {
	svc      *Service
	repo     *MemoryRepository
	clock    *fakeClock
	refs     *scriptedReferences
	provider Provider
	patients []Patient
}

// fixedNow is a Friday morning; test availabilities start the following week.
var fixedNow = time.Date(2030, 3, 1, 9, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := NewMemoryRepository()
	clock := &fakeClock{now: fixedNow}
	refs := &scriptedReferences{}

	cfg := config.Config{
		OperationTimeout:  time.Second,
		ReferenceAttempts: 3,
		RecurrenceHorizon: 366 * 24 * time.Hour,
	}

	svc := NewService(repo, redisclient.NewLocalLocker(time.Second), cfg,
		WithClock(clock), WithReferenceFunc(refs.next))

	f := &fixture{svc: svc, repo: repo, clock: clock, refs: refs}

	f.provider = Provider{ID: uuid.New(), FirstName: "Ada", LastName: "Okafor", Specialization: "cardiology", Email: "ada@example.com"}
	repo.AddProvider(f.provider)

	for i := range 4 {
		p := Patient{ID: uuid.New(), FirstName: "Pat", LastName: fmt.Sprint(i), Email: fmt.Sprintf("p%d@example.com", i)}
		repo.AddPatient(p)
		f.patients = append(f.patients, p)
	}
	return f
}

func (f *fixture) patient(i int) uuid.UUID { return f.patients[i].ID }

func simpleInput(date, start, end string) AvailabilityInput {
	return AvailabilityInput{
		Date:         date,
		StartTime:    start,
		EndTime:      end,
		Timezone:     "UTC",
		SlotDuration: 30,
		Location:     &LocationInput{Type: "clinic", Address: "1 Main St"},
	}
}

// createSlots creates one availability and returns its slots in start order.
func (f *fixture) createSlots(t *testing.T, in AvailabilityInput) []AppointmentSlot {
	t.Helper()
	ctx := context.Background()

	res, err := f.svc.CreateAvailability(ctx, f.provider.ID, in)
	require.NoError(t, err)

	var out []AppointmentSlot
	sched, err := f.svc.GetProviderAvailability(ctx, ScheduleQuery{
		ProviderID: f.provider.ID,
		StartDate:  res.DateRange.Start,
		EndDate:    res.DateRange.End,
	})
	require.NoError(t, err)
	for _, day := range sched.Days {
		for _, s := range day.Slots {
			if s.AvailabilityID == res.AvailabilityID {
				out = append(out, s)
			}
		}
	}
	require.Len(t, out, res.SlotsCreated)
	return out
}
