package db

import (
	"context"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrations_SortsAndSkips(t *testing.T) {
	files := fstest.MapFS{
		"010_later.sql":  {Data: []byte("SELECT 10;")},
		"002_second.sql": {Data: []byte("SELECT 2;")},
		"001_first.sql":  {Data: []byte("SELECT 1;")},
		"README.md":      {Data: []byte("not sql")},
		"noprefix.sql":   {Data: []byte("SELECT 0;")},
		"abc_bad.sql":    {Data: []byte("SELECT 0;")},
	}

	migs, err := LoadMigrations(files)
	require.NoError(t, err)
	require.Len(t, migs, 3)

	assert.Equal(t, []int{1, 2, 10}, []int{migs[0].Version, migs[1].Version, migs[2].Version})
	assert.Equal(t, "002_second.sql", migs[1].Name)
	assert.Equal(t, "SELECT 10;", migs[2].SQL)
}

func TestEmbeddedSchema(t *testing.T) {
	migs, err := LoadMigrations(Migrations())
	require.NoError(t, err)
	require.NotEmpty(t, migs)

	schema := migs[0].SQL
	for _, want := range []string{
		"CREATE TABLE IF NOT EXISTS provider_availability",
		"CREATE TABLE IF NOT EXISTS appointment_slots",
		"slot_booking_reference_key UNIQUE (booking_reference)",
		"slot_no_provider_overlap EXCLUDE USING gist",
		"idx_slots_provider_start",
	} {
		assert.True(t, strings.Contains(schema, want), "schema should contain %q", want)
	}
}

func TestTxFromContext_Nil(t *testing.T) {
	assert.Nil(t, TxFromContext(context.Background()))
}

func TestWithTx_NoConnection(t *testing.T) {
	err := WithTx(context.Background(), nil, func(context.Context) error { return nil })
	assert.EqualError(t, err, "no database connection")
}
