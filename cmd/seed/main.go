package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/availability-booking/internal/appointment"
	"github.com/hackgods/availability-booking/internal/config"
	"github.com/hackgods/availability-booking/internal/db"
	"github.com/hackgods/availability-booking/internal/observability"
	redisclient "github.com/hackgods/availability-booking/internal/redis"
)

var (
	specialties = []string{
		"Dermatology",
		"Cardiology",
		"General Practice",
		"Orthopedics",
		"Endocrinology",
		"Neurology",
		"Pediatrics",
		"Psychiatry",
		"Ophthalmology",
		"ENT",
	}
	timezones = []string{
		"America/New_York",
		"America/Chicago",
		"America/Los_Angeles",
		"Europe/London",
		"Europe/Berlin",
		"Asia/Kolkata",
		"Australia/Sydney",
	}
	appointmentTypes = []string{"consultation", "follow_up", "telemedicine"}
)

func main() {
	providers := flag.Int("providers", 20, "providers to create")
	patients := flag.Int("patients", 2000, "patients to create")
	days := flag.Int("days", 28, "days of daily availability per provider")
	flag.Parse()

	logger := observability.NewLogger(os.Getenv("APP_ENV"), "info", "seed")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		logger.Fatal().Msg("POSTGRES_DSN is required")
	}

	ctx := logger.WithContext(context.Background())

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(connectCtx, dsn, 0)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	providerIDs, err := seedProviders(ctx, pool, *providers)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed providers")
	}
	if err := seedPatients(ctx, pool, *patients); err != nil {
		logger.Fatal().Err(err).Msg("seed patients")
	}

	svc := appointment.NewService(
		appointment.NewPgRepository(pool),
		redisclient.NewLocalLocker(30*time.Second),
		config.Config{
			OperationTimeout:  30 * time.Second,
			ReferenceAttempts: 3,
			RecurrenceHorizon: 366 * 24 * time.Hour,
		},
	)
	if err := seedAvailability(ctx, svc, providerIDs, *days); err != nil {
		logger.Fatal().Err(err).Msg("seed availability")
	}

	logger.Info().Msg("seed complete")
}

func seedProviders(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	zerolog.Ctx(ctx).Info().Int("count", count).Msg("seeding providers")

	ids := make([]uuid.UUID, 0, count)
	rows := make([][]any, 0, count)
	for i := range count {
		id := uuid.New()
		first, last := gofakeit.FirstName(), gofakeit.LastName()
		spec := specialties[gofakeit.Number(0, len(specialties)-1)]
		email := fmt.Sprintf("%s.%s.%d@clinic.example", strings.ToLower(first), strings.ToLower(last), i)

		ids = append(ids, id)
		rows = append(rows, []any{id, first, last, spec, email})
	}

	_, err := pool.CopyFrom(ctx,
		pgx.Identifier{"providers"},
		[]string{"id", "first_name", "last_name", "specialization", "email"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Info().Msg("providers seeded")
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	zerolog.Ctx(ctx).Info().Int("count", count).Msg("seeding patients")

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		err := db.WithTx(ctx, pool, func(ctx context.Context) error {
			tx := db.TxFromContext(ctx)
			for i := offset; i < end; i++ {
				_, err := tx.Exec(ctx, `
					INSERT INTO patients (id, first_name, last_name, email, created_at)
					VALUES ($1, $2, $3, $4, now())
				`, uuid.New(), gofakeit.FirstName(), gofakeit.LastName(), fmt.Sprintf("patient%d.%s", i, gofakeit.Email()))
				if err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		zerolog.Ctx(ctx).Info().Int("done", end).Int("total", count).Msg("patients seeded")
	}
	return nil
}

// seedAvailability gives every provider a morning and an afternoon window
// repeating daily from tomorrow, in a random timezone.
func seedAvailability(ctx context.Context, svc *appointment.Service, providerIDs []uuid.UUID, days int) error {
	total := 0
	for _, id := range providerIDs {
		tz := timezones[gofakeit.Number(0, len(timezones)-1)]
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return err
		}
		start := time.Now().In(loc).AddDate(0, 0, 1)
		end := start.AddDate(0, 0, days-1)

		for _, window := range [][2]string{{"09:00", "12:00"}, {"13:00", "17:00"}} {
			res, err := svc.CreateAvailability(ctx, id, appointment.AvailabilityInput{
				Date:              appointment.FormatDate(start),
				StartTime:         window[0],
				EndTime:           window[1],
				Timezone:          tz,
				SlotDuration:      []int{20, 30, 45}[gofakeit.Number(0, 2)],
				BreakDuration:     []int{0, 5, 10}[gofakeit.Number(0, 2)],
				IsRecurring:       days > 1,
				RecurrencePattern: "daily",
				RecurrenceEndDate: appointment.FormatDate(end),
				AppointmentType:   appointmentTypes[gofakeit.Number(0, len(appointmentTypes)-1)],
				Location: &appointment.LocationInput{
					Type:    "clinic",
					Address: gofakeit.Street() + ", " + gofakeit.City(),
				},
				Pricing: &appointment.PricingInput{
					BaseFee:           float64(gofakeit.Number(40, 250)),
					InsuranceAccepted: gofakeit.Bool(),
				},
			})
			if err != nil {
				return fmt.Errorf("provider %s %s-%s: %w", id, window[0], window[1], err)
			}
			total += res.SlotsCreated
		}
	}

	zerolog.Ctx(ctx).Info().Int("providers", len(providerIDs)).Int("slots", total).Msg("availability seeded")
	return nil
}
