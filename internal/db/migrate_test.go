package db

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDriverURL(t *testing.T) {
	require.Equal(t, "pgx5://u:p@localhost:5432/kasir?sslmode=disable", driverURL("postgres://u:p@localhost:5432/kasir?sslmode=disable"))
	require.Equal(t, "pgx5://localhost/kasir", driverURL("postgresql://localhost/kasir"))
	require.Equal(t, "pgx5://localhost/kasir", driverURL("pgx5://localhost/kasir"))
}
