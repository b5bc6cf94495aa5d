package gpcstore_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/gordian-engine/gpc/gpcstore"
	"github.com/gordian-engine/gpc/internal/gtest"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "state.db")

	s, err := gpcstore.OpenSQLiteStore(ctx, gtest.NewLogger(t), gpcstore.SQLiteConfig{DSN: dsn})
	require.NoError(t, err)
	defer s.Close()

	blob, err := s.Load(ctx)
	require.NoError(t, err)
	require.Nil(t, blob)

	want := gtest.RandomBytes(t, 34)
	require.NoError(t, s.Save(ctx, want))
	require.NoError(t, s.Save(ctx, want[:10]))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, want[:10], got)

	// Another key in the same database is independent.
	other, err := gpcstore.OpenSQLiteStore(ctx, gtest.NewLogger(t), gpcstore.SQLiteConfig{
		DSN: dsn, Key: "other",
	})
	require.NoError(t, err)
	defer other.Close()

	blob, err = other.Load(ctx)
	require.NoError(t, err)
	require.Nil(t, blob)
}
