package appointment

import (
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := ParseDate(s)
	require.NoError(t, err)
	return d
}

func formatDates(ds []time.Time) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = FormatDate(d)
	}
	return out
}

func TestExpandRecurrence(t *testing.T) {
	tests := []struct {
		name    string
		start   string
		pattern RecurrencePattern
		end     string
		want    []string
	}{
		{
			name: "daily inclusive end", start: "2024-03-01", pattern: RecurDaily, end: "2024-03-04",
			want: []string{"2024-03-01", "2024-03-02", "2024-03-03", "2024-03-04"},
		},
		{
			name: "weekly stops before end", start: "2024-03-01", pattern: RecurWeekly, end: "2024-03-21",
			want: []string{"2024-03-01", "2024-03-08", "2024-03-15"},
		},
		{
			name: "monthly clamps from the original day, not the previously clamped one", start: "2024-01-31", pattern: RecurMonthly, end: "2024-04-30",
			want: []string{"2024-01-31", "2024-02-29", "2024-03-31", "2024-04-30"},
		},
		{
			name: "monthly non leap february", start: "2023-01-31", pattern: RecurMonthly, end: "2023-03-31",
			want: []string{"2023-01-31", "2023-02-28", "2023-03-31"},
		},
		{
			name: "monthly across year end", start: "2024-11-30", pattern: RecurMonthly, end: "2025-02-28",
			want: []string{"2024-11-30", "2024-12-30", "2025-01-30", "2025-02-28"},
		},
		{
			name: "none ignores end", start: "2024-05-10", pattern: RecurNone, end: "2024-01-01",
			want: []string{"2024-05-10"},
		},
		{
			name: "start after end is empty", start: "2024-05-10", pattern: RecurDaily, end: "2024-05-09",
			want: []string{},
		},
		{
			name: "single day range", start: "2024-05-10", pattern: RecurWeekly, end: "2024-05-10",
			want: []string{"2024-05-10"},
		},
		{
			name: "unknown pattern", start: "2024-05-10", pattern: "yearly", end: "2025-05-10",
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := slices.Collect(ExpandRecurrence(mustDate(t, tt.start), tt.pattern, mustDate(t, tt.end)))
			assert.Equal(t, tt.want, append([]string{}, formatDates(got)...))
		})
	}
}

func TestExpandRecurrence_Restartable(t *testing.T) {
	seq := ExpandRecurrence(mustDate(t, "2024-01-01"), RecurDaily, mustDate(t, "2024-01-05"))

	first := slices.Collect(seq)
	second := slices.Collect(seq)
	assert.Equal(t, first, second)
	assert.Len(t, first, 5)
}

func TestExpandRecurrence_EarlyStop(t *testing.T) {
	seq := ExpandRecurrence(mustDate(t, "2024-01-01"), RecurDaily, mustDate(t, "2034-01-01"))

	var n int
	for range seq {
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, 3, n)
}

func TestExpandRecurrence_IgnoresTimeOfDay(t *testing.T) {
	start := time.Date(2024, 6, 1, 23, 30, 0, 0, time.UTC)
	end := time.Date(2024, 6, 2, 1, 0, 0, 0, time.UTC)

	got := formatDates(slices.Collect(ExpandRecurrence(start, RecurDaily, end)))
	assert.Equal(t, []string{"2024-06-01", "2024-06-02"}, got)
}
