package appointment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memSlot(providerID, availabilityID uuid.UUID, start time.Time, minutes int) AppointmentSlot {
	return AppointmentSlot{
		ID:              uuid.New(),
		AvailabilityID:  availabilityID,
		ProviderID:      providerID,
		StartTime:       start,
		EndTime:         start.Add(time.Duration(minutes) * time.Minute),
		Timezone:        "UTC",
		Status:          SlotAvailable,
		AppointmentType: TypeConsultation,
	}
}

func TestMemoryRepository_WithinTxRollsBack(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	provider := Provider{ID: uuid.New(), FirstName: "Ama", LastName: "Owusu"}
	repo.AddProvider(provider)

	av := &ProviderAvailability{ID: uuid.New(), ProviderID: provider.ID}
	slot := memSlot(provider.ID, av.ID, fixedNow.Add(24*time.Hour), 30)

	boom := errors.New("boom")
	err := repo.WithinTx(ctx, func(ctx context.Context) error {
		require.NoError(t, repo.InsertAvailability(ctx, av, []AppointmentSlot{slot}))
		require.NoError(t, repo.InsertEvent(ctx, SlotEvent{EventType: "AVAILABILITY_CREATED", AvailabilityID: &av.ID}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = repo.GetSlot(ctx, slot.ID)
	assert.ErrorIs(t, err, ErrSlotNotFound)
	_, err = repo.GetAvailability(ctx, av.ID)
	assert.ErrorIs(t, err, ErrAvailabilityNotFound)
	assert.Empty(t, repo.Events())
}

func TestMemoryRepository_InsertRejectsOverlap(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	provider := Provider{ID: uuid.New()}
	repo.AddProvider(provider)

	start := fixedNow.Add(48 * time.Hour)
	first := &ProviderAvailability{ID: uuid.New(), ProviderID: provider.ID}
	existing := memSlot(provider.ID, first.ID, start, 60)
	require.NoError(t, repo.InsertAvailability(ctx, first, []AppointmentSlot{existing}))

	second := &ProviderAvailability{ID: uuid.New(), ProviderID: provider.ID}
	err := repo.InsertAvailability(ctx, second, []AppointmentSlot{memSlot(provider.ID, second.ID, start.Add(30*time.Minute), 60)})
	require.ErrorIs(t, err, ErrSlotOverlap)

	var cerr *ConflictError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, existing.ID, cerr.SlotID)

	// touching intervals are half-open and do not overlap
	require.NoError(t, repo.InsertAvailability(ctx, second, []AppointmentSlot{memSlot(provider.ID, second.ID, start.Add(time.Hour), 60)}))

	// another provider's slots never collide
	other := Provider{ID: uuid.New()}
	repo.AddProvider(other)
	third := &ProviderAvailability{ID: uuid.New(), ProviderID: other.ID}
	require.NoError(t, repo.InsertAvailability(ctx, third, []AppointmentSlot{memSlot(other.ID, third.ID, start, 60)}))
}

func TestMemoryRepository_UnknownProvider(t *testing.T) {
	repo := NewMemoryRepository()
	av := &ProviderAvailability{ID: uuid.New(), ProviderID: uuid.New()}

	err := repo.InsertAvailability(context.Background(), av, nil)
	assert.ErrorIs(t, err, ErrProviderNotFound)
}

func TestMemoryRepository_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	repo := NewMemoryRepository()
	_, err := repo.GetSlot(ctx, uuid.New())
	assert.ErrorIs(t, err, context.Canceled)

	err = repo.WithinTx(ctx, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryRepository_NestedTxUndoesOnlyItsOwnWrites(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	provider := Provider{ID: uuid.New()}
	repo.AddProvider(provider)
	patient := uuid.New()

	av := &ProviderAvailability{ID: uuid.New(), ProviderID: provider.ID}
	first := memSlot(provider.ID, av.ID, fixedNow.Add(24*time.Hour), 30)
	second := memSlot(provider.ID, av.ID, first.EndTime, 30)
	require.NoError(t, repo.InsertAvailability(ctx, av, []AppointmentSlot{first, second}))

	book := func(id uuid.UUID, ref string) SlotTransition {
		return SlotTransition{SlotID: id, From: SlotAvailable, To: SlotBooked, Patient: &patient, BookingReference: &ref, At: fixedNow}
	}

	boom := errors.New("boom")
	err := repo.WithinTx(ctx, func(ctx context.Context) error {
		_, err := repo.TransitionSlot(ctx, book(first.ID, "APT-20300301-AAAAAAAA"))
		require.NoError(t, err)

		err = repo.WithinTx(ctx, func(ctx context.Context) error {
			_, err := repo.TransitionSlot(ctx, book(second.ID, "APT-20300301-BBBBBBBB"))
			require.NoError(t, err)
			return boom
		})
		require.ErrorIs(t, err, boom)
		return nil
	})
	require.NoError(t, err)

	got, err := repo.GetSlot(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, got.BookedBy(patient))

	got, err = repo.GetSlot(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, SlotAvailable, got.Status)
	assert.Nil(t, got.BookingReference)

	// the undone reference is free again
	_, err = repo.TransitionSlot(ctx, book(second.ID, "APT-20300301-BBBBBBBB"))
	require.NoError(t, err)
}

func TestMemoryRepository_ImplicitIdentities(t *testing.T) {
	ctx := context.Background()

	strict := NewMemoryRepository()
	_, err := strict.GetProvider(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrProviderNotFound)
	_, err = strict.GetPatient(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrPatientNotFound)

	repo := NewMemoryRepository(WithImplicitIdentities())
	providerID, patientID := uuid.New(), uuid.New()

	p, err := repo.GetProvider(ctx, providerID)
	require.NoError(t, err)
	assert.Equal(t, providerID, p.ID)

	pt, err := repo.GetPatient(ctx, patientID)
	require.NoError(t, err)
	assert.Equal(t, patientID, pt.ID)

	av := &ProviderAvailability{ID: uuid.New(), ProviderID: providerID}
	require.NoError(t, repo.InsertAvailability(ctx, av, []AppointmentSlot{memSlot(providerID, av.ID, fixedNow.Add(time.Hour), 30)}))
}
