package appointment

import (
	"bytes"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps everything in process. One mutex serialises all
// access; a transaction holds it until fn returns and journals the prior
// value of every row it writes, so a failed transaction undoes only what it
// touched. It backs STORE_DRIVER=memory and the service tests.
type MemoryRepository struct {
	mu           sync.Mutex
	providers    map[uuid.UUID]Provider
	patients     map[uuid.UUID]Patient
	availability map[uuid.UUID]ProviderAvailability
	slots        map[uuid.UUID]AppointmentSlot
	references   map[string]uuid.UUID
	events       []SlotEvent

	implicitIdentities bool
}

type MemoryOption func(*MemoryRepository)

// WithImplicitIdentities records an unknown provider or patient id as a
// mirror record on first sight. The identity service has already vouched for
// every id that reaches the repository, and a standalone memory store has no
// other way to learn them.
func WithImplicitIdentities() MemoryOption {
	return func(r *MemoryRepository) { r.implicitIdentities = true }
}

func NewMemoryRepository(opts ...MemoryOption) *MemoryRepository {
	r := &MemoryRepository{
		providers:    make(map[uuid.UUID]Provider),
		patients:     make(map[uuid.UUID]Patient),
		availability: make(map[uuid.UUID]ProviderAvailability),
		slots:        make(map[uuid.UUID]AppointmentSlot),
		references:   make(map[string]uuid.UUID),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type memTxKey struct{ r *MemoryRepository }

func (r *MemoryRepository) journal(ctx context.Context) *memJournal {
	j, _ := ctx.Value(memTxKey{r}).(*memJournal)
	return j
}

func (r *MemoryRepository) inTx(ctx context.Context) bool {
	return r.journal(ctx) != nil
}

func (r *MemoryRepository) lock(ctx context.Context) func() {
	if r.inTx(ctx) {
		return func() {}
	}
	r.mu.Lock()
	return r.mu.Unlock
}

// memJournal holds the value each row had before the transaction first wrote
// it. A nil entry means the row did not exist.
type memJournal struct {
	availability map[uuid.UUID]*ProviderAvailability
	slots        map[uuid.UUID]*AppointmentSlot
	references   map[string]*uuid.UUID
	events       int
}

func newJournal(events int) *memJournal {
	return &memJournal{
		availability: make(map[uuid.UUID]*ProviderAvailability),
		slots:        make(map[uuid.UUID]*AppointmentSlot),
		references:   make(map[string]*uuid.UUID),
		events:       events,
	}
}

func journalRow[K comparable, V any](entries map[K]*V, rows map[K]V, key K) {
	if _, seen := entries[key]; seen {
		return
	}
	if v, ok := rows[key]; ok {
		entries[key] = &v
	} else {
		entries[key] = nil
	}
}

func undoRows[K comparable, V any](entries map[K]*V, rows map[K]V) {
	for k, v := range entries {
		if v == nil {
			delete(rows, k)
		} else {
			rows[k] = *v
		}
	}
}

// keepFirst moves child entries the parent has not seen into the parent.
func keepFirst[K comparable, V any](parent, child map[K]*V) {
	for k, v := range child {
		if _, seen := parent[k]; !seen {
			parent[k] = v
		}
	}
}

func (r *MemoryRepository) touchSlot(ctx context.Context, id uuid.UUID) {
	if j := r.journal(ctx); j != nil {
		journalRow(j.slots, r.slots, id)
	}
}

func (r *MemoryRepository) touchAvailability(ctx context.Context, id uuid.UUID) {
	if j := r.journal(ctx); j != nil {
		journalRow(j.availability, r.availability, id)
	}
}

func (r *MemoryRepository) touchReference(ctx context.Context, ref string) {
	if j := r.journal(ctx); j != nil {
		journalRow(j.references, r.references, ref)
	}
}

func (r *MemoryRepository) undo(j *memJournal) {
	undoRows(j.availability, r.availability)
	undoRows(j.slots, r.slots)
	undoRows(j.references, r.references)
	r.events = r.events[:j.events]
}

// WithinTx runs fn holding the store mutex. A nested call behaves as a
// savepoint: its failure undoes only its own writes.
func (r *MemoryRepository) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	parent := r.journal(ctx)
	if parent == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
	}

	j := newJournal(len(r.events))
	if err := fn(context.WithValue(ctx, memTxKey{r}, j)); err != nil {
		r.undo(j)
		return err
	}

	if parent != nil {
		keepFirst(parent.availability, j.availability)
		keepFirst(parent.slots, j.slots)
		keepFirst(parent.references, j.references)
	}
	return nil
}

// AddProvider and AddPatient mirror the identity service's records.
func (r *MemoryRepository) AddProvider(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID] = p
}

func (r *MemoryRepository) AddPatient(p Patient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patients[p.ID] = p
}

// Events returns a copy of the recorded slot events.
func (r *MemoryRepository) Events() []SlotEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

func (r *MemoryRepository) GetProvider(ctx context.Context, id uuid.UUID) (*Provider, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer r.lock(ctx)()

	p, ok := r.providers[id]
	if !ok {
		if !r.implicitIdentities {
			return nil, ErrProviderNotFound
		}
		p = Provider{ID: id, CreatedAt: time.Now().UTC()}
		r.providers[id] = p
	}
	return &p, nil
}

func (r *MemoryRepository) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer r.lock(ctx)()

	p, ok := r.patients[id]
	if !ok {
		if !r.implicitIdentities {
			return nil, ErrPatientNotFound
		}
		p = Patient{ID: id, CreatedAt: time.Now().UTC()}
		r.patients[id] = p
	}
	return &p, nil
}

func (r *MemoryRepository) GetSlot(ctx context.Context, id uuid.UUID) (*AppointmentSlot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer r.lock(ctx)()

	s, ok := r.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return cloneSlot(s), nil
}

func (r *MemoryRepository) GetAvailability(ctx context.Context, id uuid.UUID) (*ProviderAvailability, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer r.lock(ctx)()

	a, ok := r.availability[id]
	if !ok {
		return nil, ErrAvailabilityNotFound
	}
	return &a, nil
}

// LockProviderSchedule is a no-op; the transaction already holds the mutex.
func (r *MemoryRepository) LockProviderSchedule(ctx context.Context, _ uuid.UUID) error {
	return ctx.Err()
}

func (r *MemoryRepository) FindOverlappingSlot(ctx context.Context, providerID uuid.UUID, slots []AppointmentSlot) (*AppointmentSlot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer r.lock(ctx)()

	return r.findOverlap(providerID, slots), nil
}

func (r *MemoryRepository) findOverlap(providerID uuid.UUID, slots []AppointmentSlot) *AppointmentSlot {
	for _, existing := range r.slots {
		if existing.ProviderID != providerID || !holdsTime(existing.Status) {
			continue
		}
		for _, s := range slots {
			if existing.StartTime.Before(s.EndTime) && s.StartTime.Before(existing.EndTime) {
				return cloneSlot(existing)
			}
		}
	}
	return nil
}

// holdsTime reports whether a slot in status s reserves provider time.
func holdsTime(s SlotStatus) bool {
	return s == SlotAvailable || s == SlotBooked
}

func (r *MemoryRepository) InsertAvailability(ctx context.Context, av *ProviderAvailability, slots []AppointmentSlot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer r.lock(ctx)()

	if _, ok := r.providers[av.ProviderID]; !ok {
		return ErrProviderNotFound
	}
	if existing := r.findOverlap(av.ProviderID, slots); existing != nil {
		return conflict(ErrSlotOverlap, existing)
	}

	r.touchAvailability(ctx, av.ID)
	r.availability[av.ID] = *av
	for _, s := range slots {
		r.touchSlot(ctx, s.ID)
		r.slots[s.ID] = *cloneSlot(s)
	}
	return nil
}

func (r *MemoryRepository) ListProviderSlots(ctx context.Context, f ProviderSlotFilter) ([]AppointmentSlot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer r.lock(ctx)()

	var out []AppointmentSlot
	for _, s := range r.slots {
		if s.ProviderID != f.ProviderID {
			continue
		}
		if s.StartTime.Before(f.StartFrom) || !s.StartTime.Before(f.StartBefore) {
			continue
		}
		if f.Status != nil && s.Status != *f.Status {
			continue
		}
		if f.Type != nil && s.AppointmentType != *f.Type {
			continue
		}
		out = append(out, *cloneSlot(s))
	}

	slices.SortFunc(out, func(a, b AppointmentSlot) int {
		if c := a.StartTime.Compare(b.StartTime); c != 0 {
			return c
		}
		return bytes.Compare(a.ID[:], b.ID[:])
	})
	return out, nil
}

func (r *MemoryRepository) ListPatientAppointments(ctx context.Context, f PatientSlotFilter, after *PageCursor, limit int) ([]PatientAppointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer r.lock(ctx)()

	var out []PatientAppointment
	for _, s := range r.slots {
		if s.PatientID == nil || *s.PatientID != f.PatientID {
			continue
		}
		if f.Status != nil && s.Status != *f.Status {
			continue
		}
		if f.ProviderID != nil && s.ProviderID != *f.ProviderID {
			continue
		}
		if f.StartFrom != nil && s.StartTime.Before(*f.StartFrom) {
			continue
		}
		if f.StartBefore != nil && !s.StartTime.Before(*f.StartBefore) {
			continue
		}
		if after != nil && !beforeCursor(s, *after) {
			continue
		}
		out = append(out, PatientAppointment{Slot: *cloneSlot(s), Provider: r.providers[s.ProviderID]})
	}

	slices.SortFunc(out, func(a, b PatientAppointment) int {
		if c := b.Slot.StartTime.Compare(a.Slot.StartTime); c != 0 {
			return c
		}
		return bytes.Compare(b.Slot.ID[:], a.Slot.ID[:])
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// beforeCursor reports whether s sorts after c in descending order.
func beforeCursor(s AppointmentSlot, c PageCursor) bool {
	if cmp := s.StartTime.Compare(c.StartTime); cmp != 0 {
		return cmp < 0
	}
	return bytes.Compare(s.ID[:], c.ID[:]) < 0
}

func (r *MemoryRepository) TransitionSlot(ctx context.Context, t SlotTransition) (*AppointmentSlot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer r.lock(ctx)()

	s, ok := r.slots[t.SlotID]
	if !ok {
		return nil, ErrSlotNotFound
	}
	if !t.matches(&s) {
		return nil, ErrTransitionRejected
	}
	if t.BookingReference != nil {
		if owner, taken := r.references[*t.BookingReference]; taken && owner != s.ID {
			return nil, ErrReferenceCollision
		}
	}

	if s.BookingReference != nil {
		r.touchReference(ctx, *s.BookingReference)
		delete(r.references, *s.BookingReference)
	}
	t.apply(&s)
	if s.BookingReference != nil {
		r.touchReference(ctx, *s.BookingReference)
		r.references[*s.BookingReference] = s.ID
	}

	r.touchSlot(ctx, s.ID)
	stored := cloneSlot(s)
	r.slots[s.ID] = *stored
	return cloneSlot(*stored), nil
}

func (r *MemoryRepository) InsertEvent(ctx context.Context, ev SlotEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer r.lock(ctx)()

	ev.ID = int64(len(r.events) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	r.events = append(r.events, ev)
	return nil
}

// cloneSlot copies s so callers never share pointer fields with the store.
func cloneSlot(s AppointmentSlot) *AppointmentSlot {
	c := s
	c.PatientID = clonePtr(s.PatientID)
	c.BookingReference = clonePtr(s.BookingReference)
	c.Notes = clonePtr(s.Notes)
	c.CancellationReason = clonePtr(s.CancellationReason)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
