package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/openquant/mmdash/internal/domain"
	"github.com/openquant/mmdash/internal/infrastructure/secrets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), secrets.NewCipher("test-key"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testSession(id string, userID int64) *domain.Session {
	return &domain.Session{
		ID:     id,
		UserID: userID,
		Config: domain.SessionConfig{
			Exchange:             "bitmart",
			Symbol:               "BTC-USDT",
			SpreadPct:            0.5,
			TotalAmount:          1000,
			ReferenceSource:      domain.RefExchange,
			Strategy:             domain.StrategyPaired,
			OrderCount:           4,
			BaseOrderSize:        0.001,
			RefreshInterval:      30 * time.Second,
			MovementThresholdPct: 0.5,
		},
		Status:    domain.StatusStarting,
		CreatedAt: time.Now(),
	}
}

func TestSessionRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess := testSession("s1", 7)
	require.NoError(t, store.CreateSession(ctx, sess))

	got, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
	assert.Equal(t, sess.UserID, got.UserID)
	assert.Equal(t, sess.Config, got.Config)
	assert.Equal(t, domain.StatusStarting, got.Status)
	assert.Nil(t, got.StoppedAt)

	_, err = store.GetSession(ctx, "missing")
	assert.Error(t, err)
}

func TestSessionStatusAndCounters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateSession(ctx, testSession("s1", 7)))
	require.NoError(t, store.UpdateSessionStatus(ctx, "s1", domain.StatusRunning, ""))
	require.NoError(t, store.UpdateSessionCounters(ctx, "s1", 3, 5, 12.5, 600))

	got, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, got.Status)
	assert.Equal(t, int64(3), got.ClustersPlaced)
	assert.Equal(t, int64(5), got.Fills)
	assert.Equal(t, 12.5, got.TotalPnL)
	assert.Equal(t, int64(600), got.UptimeSeconds)

	require.NoError(t, store.UpdateSessionStatus(ctx, "s1", domain.StatusStopped, ""))
	got, err = store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusStopped, got.Status)
	assert.NotNil(t, got.StoppedAt)
}

func TestListSessions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateSession(ctx, testSession("s1", 7)))
	require.NoError(t, store.CreateSession(ctx, testSession("s2", 7)))
	require.NoError(t, store.CreateSession(ctx, testSession("s3", 8)))
	require.NoError(t, store.UpdateSessionStatus(ctx, "s1", domain.StatusRunning, ""))
	require.NoError(t, store.UpdateSessionStatus(ctx, "s2", domain.StatusStopped, ""))

	byUser, err := store.ListSessionsByUser(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, byUser, 2)

	active, err := store.ListSessionsByStatus(ctx, domain.StatusRunning, domain.StatusStarting)
	require.NoError(t, err)
	require.Len(t, active, 2)
	for _, s := range active {
		assert.NotEqual(t, "s2", s.ID)
	}
}

func TestClusterRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	c := &domain.Cluster{
		SessionID: "s1",
		Seq:       1,
		MidPrice:  45000,
		Buy:       domain.Leg{OrderID: "b1", Price: 44775, Quantity: 0.0112, Status: domain.LegOpen},
		Sell:      domain.Leg{OrderID: "s1", Price: 45225, Quantity: 0.0111, Status: domain.LegOpen},
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.InsertCluster(ctx, c))

	c.Buy.Status = domain.LegFilled
	c.Buy.Filled = 0.0112
	c.Buy.OrderID = "b2"
	c.LastChecked = time.Now()
	require.NoError(t, store.UpdateCluster(ctx, c))

	clusters, err := store.ListClustersBySession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	assert.Equal(t, 45000.0, clusters[0].MidPrice)
	assert.Equal(t, "b2", clusters[0].Buy.OrderID)
	assert.Equal(t, domain.LegFilled, clusters[0].Buy.Status)
	assert.Equal(t, domain.LegOpen, clusters[0].Sell.Status)
}

func TestClusterInsertIsUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	c := &domain.Cluster{SessionID: "s1", Seq: 1, MidPrice: 100, CreatedAt: time.Now()}
	require.NoError(t, store.InsertCluster(ctx, c))
	c.MidPrice = 101
	require.NoError(t, store.InsertCluster(ctx, c))

	clusters, err := store.ListClustersBySession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	assert.Equal(t, 101.0, clusters[0].MidPrice)
}

func TestOrderRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	o := &domain.LiveOrder{
		OrderID:  "o-1",
		Side:     domain.SideBuy,
		Price:    99.5,
		Quantity: 0.0015,
		Level:    1,
		PlacedAt: time.Now(),
	}
	require.NoError(t, store.InsertOrder(ctx, "s1", o))
	require.NoError(t, store.MarkOrderFilled(ctx, "s1", "o-1"))

	orders, err := store.ListOrdersBySession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "o-1", orders[0].OrderID)
	assert.Equal(t, 1, orders[0].Level)
}

func TestCredentialsEncryptedRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	creds := domain.Credentials{APIKey: "key-1", APISecret: "secret-1", Memo: "memo-1"}
	require.NoError(t, store.SaveCredentials(ctx, 7, "bitmart", creds))

	got, err := store.GetCredentials(ctx, 7, "bitmart")
	require.NoError(t, err)
	assert.Equal(t, creds, *got)

	// ciphertext at rest, not the plaintext key
	var stored string
	require.NoError(t, store.db.QueryRow(
		`SELECT api_key_encrypted FROM api_credentials WHERE user_id = 7 AND exchange = 'bitmart'`).Scan(&stored))
	assert.NotEqual(t, "key-1", stored)
	assert.Contains(t, stored, ":")
}

func TestCredentialsUpsertAndDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveCredentials(ctx, 7, "bitmart", domain.Credentials{APIKey: "a", APISecret: "b"}))
	require.NoError(t, store.SaveCredentials(ctx, 7, "bitmart", domain.Credentials{APIKey: "c", APISecret: "d"}))
	require.NoError(t, store.SaveCredentials(ctx, 7, "gateio", domain.Credentials{APIKey: "e", APISecret: "f"}))

	got, err := store.GetCredentials(ctx, 7, "bitmart")
	require.NoError(t, err)
	assert.Equal(t, "c", got.APIKey)

	exchanges, err := store.ListCredentialExchanges(ctx, 7)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"bitmart", "gateio"}, exchanges)

	require.NoError(t, store.DeleteCredentials(ctx, 7, "bitmart"))
	_, err = store.GetCredentials(ctx, 7, "bitmart")
	assert.Error(t, err)

	assert.Error(t, store.DeleteCredentials(ctx, 7, "bitmart"))
}
