package leaderboard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/council-engine/council/pkg/database"
)

func newTestLeaderboard(t *testing.T) *Leaderboard {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	cfg := database.Config{
		Host: host, Port: port.Int(), User: "test", Password: "test", Database: "test",
		SSLMode: "disable", MaxOpenConns: 5, MaxIdleConns: 2,
	}
	client, err := database.NewClient(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	store, err := NewStore(ctx, cfg.DSN())
	require.NoError(t, err)
	t.Cleanup(store.Close)

	return New(store)
}

func TestLeaderboard_RecordResultPositionsAndWins(t *testing.T) {
	lb := newTestLeaderboard(t)

	err := lb.RecordResult("personal", map[string]float64{
		"anthropic/claude-opus-4": 8,
		"openai/gpt-4":            6,
		"google/gemini-pro":       4,
	}, "anthropic/claude-opus-4", nil)
	require.NoError(t, err)

	snap := lb.Snapshot("personal")
	winner, ok := snap.Entry("anthropic/claude-opus-4")
	require.True(t, ok)
	assert.Equal(t, 1, winner.Wins)
	assert.Equal(t, 1, winner.Participations)
	assert.Equal(t, []int{1}, winner.Positions)
	assert.InDelta(t, 100.0, winner.WinRate(), 0.001)

	third, ok := snap.Entry("google/gemini-pro")
	require.True(t, ok)
	assert.Equal(t, []int{3}, third.Positions)
	assert.Equal(t, 0, third.Wins)
}

func TestLeaderboard_PositionWindowBoundedAt50(t *testing.T) {
	lb := newTestLeaderboard(t)

	for i := 0; i < 60; i++ {
		err := lb.RecordResult("personal", map[string]float64{"backend-a": 1}, "backend-a", nil)
		require.NoError(t, err)
	}

	snap := lb.Snapshot("personal")
	e, ok := snap.Entry("backend-a")
	require.True(t, ok)
	assert.Len(t, e.Positions, 50)
	assert.Equal(t, 60, e.Participations)
}

func TestLeaderboard_RankingsSortedByWinRateDescending(t *testing.T) {
	lb := newTestLeaderboard(t)

	require.NoError(t, lb.RecordResult("personal", map[string]float64{"a": 5, "b": 3}, "a", nil))
	require.NoError(t, lb.RecordResult("personal", map[string]float64{"a": 5, "b": 3}, "b", nil))
	require.NoError(t, lb.RecordResult("personal", map[string]float64{"a": 5, "b": 3}, "a", nil))

	ranked := lb.Rankings("personal")
	require.Len(t, ranked, 2)
	assert.Equal(t, "a", ranked[0].BackendID)
	assert.InDelta(t, 200.0/3.0, ranked[0].WinRate(), 0.01)
}

func TestLeaderboard_PersistsAcrossReload(t *testing.T) {
	lb := newTestLeaderboard(t)
	require.NoError(t, lb.RecordResult("personal", map[string]float64{"a": 10}, "a", nil))

	require.NoError(t, lb.Load("personal"))
	snap := lb.Snapshot("personal")
	e, ok := snap.Entry("a")
	require.True(t, ok)
	assert.Equal(t, 1, e.Participations)
}
