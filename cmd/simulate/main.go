package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/availability-booking/internal/config"
	"github.com/hackgods/availability-booking/internal/db"
	"github.com/hackgods/availability-booking/internal/identity"
	"github.com/hackgods/availability-booking/internal/observability"
)

type SimConfig struct {
	APIBaseURL      string
	Duration        time.Duration
	Workers         int
	BookingRatio    float64
	CancelRatio     float64
	RescheduleRatio float64
	ReadRatio       float64
	PatientLimit    int
	SlotLimit       int
	PostgresDSN     string
	JWTSecret       string
	JWTIssuer       string
}

// DataPool holds the ids the workers draw from and the bookings the
// simulator believes it owns.
type DataPool struct {
	Patients  []uuid.UUID
	Providers []uuid.UUID
	Slots     []uuid.UUID

	mu   sync.Mutex
	held map[uuid.UUID]uuid.UUID // slot -> patient
}

func (dp *DataPool) Hold(slotID, patientID uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.held[slotID] = patientID
}

// TakeBooking removes and returns a random held booking so no two workers
// act on it at once.
func (dp *DataPool) TakeBooking(rng *rand.Rand) (slotID, patientID uuid.UUID, ok bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.held) == 0 {
		return uuid.Nil, uuid.Nil, false
	}
	n := rng.Intn(len(dp.held))
	for s, p := range dp.held {
		if n == 0 {
			delete(dp.held, s)
			return s, p, true
		}
		n--
	}
	return uuid.Nil, uuid.Nil, false
}

func (dp *DataPool) Held() map[uuid.UUID]uuid.UUID {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	out := make(map[uuid.UUID]uuid.UUID, len(dp.held))
	for k, v := range dp.held {
		out[k] = v
	}
	return out
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, lo, hi, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)

	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	lo = latencies[0]
	hi = latencies[len(latencies)-1]
	p50 = latencies[min(len(latencies)*50/100, len(latencies)-1)]
	p95 = latencies[min(len(latencies)*95/100, len(latencies)-1)]

	return avg, lo, hi, p50, p95
}

type Metrics struct {
	Booking          OperationMetrics
	Cancel           OperationMetrics
	Reschedule       OperationMetrics
	ListByPatient    OperationMetrics
	ProviderSchedule OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	tokens  sync.Map // patient or provider id -> bearer token
	logger  zerolog.Logger
}

func main() {
	logger := observability.NewLogger("dev", "info", "simulate")
	logger.Info().Msg("simulator starting")

	cfg := loadConfig(logger)
	if err := validateConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	logger.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("booking", cfg.BookingRatio).
		Float64("cancel", cfg.CancelRatio).
		Float64("reschedule", cfg.RescheduleRatio).
		Float64("read", cfg.ReadRatio).
		Msg("config")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, 0)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("load data pool")
	}

	logger.Info().
		Int("patients", len(dataPool.Patients)).
		Int("providers", len(dataPool.Providers)).
		Int("slots", len(dataPool.Slots)).
		Msg("loaded data pool")

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	sim.Run()
	sim.PrintReport()

	auditCtx, cancelAudit := context.WithTimeout(context.Background(), time.Minute)
	defer cancelAudit()
	if !sim.Audit(auditCtx, pgPool) {
		os.Exit(1)
	}
}

func loadConfig(logger zerolog.Logger) SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load base config")
	}

	cfg := SimConfig{
		APIBaseURL:      getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:        getDuration("SIM_DURATION", 30*time.Second),
		Workers:         getInt("SIM_WORKERS", 10),
		BookingRatio:    getFloat("SIM_BOOKING_RATIO", 0.4),
		CancelRatio:     getFloat("SIM_CANCEL_RATIO", 0.15),
		RescheduleRatio: getFloat("SIM_RESCHEDULE_RATIO", 0.15),
		ReadRatio:       getFloat("SIM_READ_RATIO", 0.3),
		PatientLimit:    getInt("SIM_PATIENT_LIMIT", 4000),
		SlotLimit:       getInt("SIM_SLOT_LIMIT", 2400),
		PostgresDSN:     baseCfg.PostgresDSN,
		JWTSecret:       baseCfg.JWTSecret,
		JWTIssuer:       baseCfg.JWTIssuer,
	}

	total := cfg.BookingRatio + cfg.CancelRatio + cfg.RescheduleRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.CancelRatio /= total
		cfg.RescheduleRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	return nil
}

func queryIDs(ctx context.Context, pool *pgxpool.Pool, sql string, args ...any) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{held: make(map[uuid.UUID]uuid.UUID)}
	var err error

	dataPool.Patients, err = queryIDs(ctx, pool, `SELECT id FROM patients LIMIT $1`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}

	dataPool.Providers, err = queryIDs(ctx, pool, `SELECT id FROM providers`)
	if err != nil {
		return nil, fmt.Errorf("load providers: %w", err)
	}

	// a slot set small relative to the workers keeps contention high
	dataPool.Slots, err = queryIDs(ctx, pool, `
		SELECT id FROM appointment_slots
		WHERE status = 'available' AND slot_start_time > now() + interval '1 hour'
		ORDER BY random()
		LIMIT $1
	`, cfg.SlotLimit)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}

	if len(dataPool.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded")
	}
	if len(dataPool.Slots) == 0 {
		return nil, fmt.Errorf("no slots loaded")
	}

	return dataPool, nil
}

func (s *Simulator) token(claims identity.Claims, key uuid.UUID) string {
	if tok, ok := s.tokens.Load(key); ok {
		return tok.(string)
	}
	tok, err := identity.Issue(s.config.JWTSecret, s.config.JWTIssuer, claims, s.config.Duration+10*time.Minute)
	if err != nil {
		s.logger.Fatal().Err(err).Msg("issue token")
	}
	s.tokens.Store(key, tok)
	return tok
}

func (s *Simulator) patientToken(id uuid.UUID) string {
	return s.token(identity.Claims{Role: identity.RolePatient, PatientID: id.String()}, id)
}

func (s *Simulator) providerToken(id uuid.UUID) string {
	return s.token(identity.Claims{Role: identity.RoleProvider, ProviderID: id.String()}, id)
}

// call sends one request and returns the status code, or 0 on transport error.
func (s *Simulator) call(ctx context.Context, method, path, token string, body any, out any) int {
	var reader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return 0
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		_ = json.NewDecoder(resp.Body).Decode(out)
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return resp.StatusCode
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.logger.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.logger.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.BookingRatio:
				s.doBooking(ctx, rng)
			case r < s.config.BookingRatio+s.config.CancelRatio:
				s.doCancel(ctx, rng)
			case r < s.config.BookingRatio+s.config.CancelRatio+s.config.RescheduleRatio:
				s.doReschedule(ctx, rng)
			default:
				if rng.Intn(2) == 0 {
					s.doListByPatient(ctx, rng)
				} else {
					s.doProviderSchedule(ctx, rng)
				}
			}
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	slotID := s.pool.Slots[rng.Intn(len(s.pool.Slots))]
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	start := time.Now()
	code := s.call(ctx, http.MethodPost, "/api/v1/slots/"+slotID.String()+"/book", s.patientToken(patientID),
		map[string]string{"notes": "simulated"}, nil)
	latency := time.Since(start)

	if code == http.StatusCreated {
		s.pool.Hold(slotID, patientID)
	}
	s.metrics.Booking.Record(latency, code == http.StatusCreated, code == http.StatusConflict)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	slotID, patientID, ok := s.pool.TakeBooking(rng)
	if !ok {
		return
	}

	start := time.Now()
	code := s.call(ctx, http.MethodPost, "/api/v1/slots/"+slotID.String()+"/cancel", s.patientToken(patientID),
		map[string]string{"reason": "simulated"}, nil)
	latency := time.Since(start)

	switch code {
	case http.StatusOK:
	case http.StatusConflict:
		// still ours, e.g. the slot started meanwhile
		s.pool.Hold(slotID, patientID)
	}
	s.metrics.Cancel.Record(latency, code == http.StatusOK, code == http.StatusConflict)
}

func (s *Simulator) doReschedule(ctx context.Context, rng *rand.Rand) {
	slotID, patientID, ok := s.pool.TakeBooking(rng)
	if !ok {
		return
	}
	target := s.pool.Slots[rng.Intn(len(s.pool.Slots))]

	start := time.Now()
	code := s.call(ctx, http.MethodPost, "/api/v1/slots/"+slotID.String()+"/reschedule", s.patientToken(patientID),
		map[string]string{"new_slot_id": target.String()}, nil)
	latency := time.Since(start)

	switch code {
	case http.StatusOK:
		s.pool.Hold(target, patientID)
	case http.StatusConflict, http.StatusUnprocessableEntity:
		// rejected reschedules leave the original booking in place
		s.pool.Hold(slotID, patientID)
	}
	s.metrics.Reschedule.Record(latency, code == http.StatusOK, code == http.StatusConflict)
}

func (s *Simulator) doListByPatient(ctx context.Context, rng *rand.Rand) {
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	start := time.Now()
	code := s.call(ctx, http.MethodGet, "/api/v1/patients/me/appointments?limit=20", s.patientToken(patientID), nil, nil)
	s.metrics.ListByPatient.Record(time.Since(start), code == http.StatusOK, false)
}

func (s *Simulator) doProviderSchedule(ctx context.Context, rng *rand.Rand) {
	if len(s.pool.Providers) == 0 {
		return
	}
	providerID := s.pool.Providers[rng.Intn(len(s.pool.Providers))]
	from := time.Now().UTC()
	path := fmt.Sprintf("/api/v1/providers/%s/availability?start_date=%s&end_date=%s",
		providerID, from.Format("2006-01-02"), from.AddDate(0, 0, 7).Format("2006-01-02"))

	start := time.Now()
	code := s.call(ctx, http.MethodGet, path, s.providerToken(providerID), nil, nil)
	s.metrics.ProviderSchedule.Record(time.Since(start), code == http.StatusOK, false)
}

// Audit checks the stored slots against the booking invariants and against
// the bookings the simulator was told it holds.
func (s *Simulator) Audit(ctx context.Context, pool *pgxpool.Pool) bool {
	checks := []struct {
		name string
		sql  string
	}{
		{"duplicate booking references", `
			SELECT count(*) FROM (
				SELECT booking_reference FROM appointment_slots
				WHERE booking_reference IS NOT NULL
				GROUP BY booking_reference HAVING count(*) > 1
			) d`},
		{"binding without booked status", `
			SELECT count(*) FROM appointment_slots
			WHERE (status = 'booked') <> (patient_id IS NOT NULL)
			   OR (status = 'booked') <> (booking_reference IS NOT NULL)`},
		{"overlapping provider slots", `
			SELECT count(*) FROM appointment_slots a
			JOIN appointment_slots b
			  ON a.provider_id = b.provider_id AND a.id < b.id
			 AND a.slot_start_time < b.slot_end_time AND b.slot_start_time < a.slot_end_time
			WHERE a.status IN ('available', 'booked') AND b.status IN ('available', 'booked')`},
	}

	ok := true
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("INVARIANT AUDIT")
	fmt.Println(strings.Repeat("=", 80))

	for _, c := range checks {
		var n int64
		if err := pool.QueryRow(ctx, c.sql).Scan(&n); err != nil {
			s.logger.Error().Err(err).Str("check", c.name).Msg("audit query failed")
			ok = false
			continue
		}
		fmt.Printf("  %-32s %d\n", c.name+":", n)
		if n != 0 {
			ok = false
		}
	}

	held := s.pool.Held()
	lost := 0
	for slotID, patientID := range held {
		var owner *uuid.UUID
		var status string
		err := pool.QueryRow(ctx, `SELECT patient_id, status FROM appointment_slots WHERE id = $1`, slotID).Scan(&owner, &status)
		if err != nil || status != "booked" || owner == nil || *owner != patientID {
			lost++
		}
	}
	fmt.Printf("  %-32s %d of %d\n", "acknowledged bookings lost:", lost, len(held))
	if lost != 0 {
		ok = false
	}

	if ok {
		fmt.Println("  result: OK")
	} else {
		fmt.Println("  result: VIOLATIONS FOUND")
	}
	return ok
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Reschedule", &s.metrics.Reschedule)
	printOperationReport("List by Patient", &s.metrics.ListByPatient)
	printOperationReport("Provider Schedule", &s.metrics.ProviderSchedule)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, lo, hi, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), lo.Round(time.Millisecond), hi.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
