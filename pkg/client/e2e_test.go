package client_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperengineering/bridge/internal/api"
	"github.com/hyperengineering/bridge/internal/auth"
	"github.com/hyperengineering/bridge/internal/completion"
	"github.com/hyperengineering/bridge/internal/embedding"
	"github.com/hyperengineering/bridge/internal/index"
	"github.com/hyperengineering/bridge/internal/ledger"
	"github.com/hyperengineering/bridge/internal/store"
	"github.com/hyperengineering/bridge/internal/summary"
	"github.com/hyperengineering/bridge/pkg/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// startBridge runs the full service over a temp database and the given upstream.
func startBridge(t *testing.T, upstream http.HandlerFunc) string {
	t.Helper()

	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "bridge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tokens, err := auth.NewTokenIssuer("e2e-secret")
	require.NoError(t, err)
	creds := auth.NewCredentials(db, auth.NewPasswordHasher(bcrypt.MinCost), tokens, nil)

	mgr := index.NewManager(index.NewVectorBackend(embedding.NewHashing(0), index.DefaultMinScore, index.DefaultTopK), db)

	up := httptest.NewServer(upstream)
	t.Cleanup(up.Close)
	completer := completion.New(completion.Config{BaseURL: up.URL, APIKey: "k", Model: "e2e-model"})

	h := api.NewHandler(api.HandlerConfig{
		Accounts:        creds,
		Gate:            auth.NewGate(creds),
		Ledger:          ledger.New(db, mgr),
		Index:           mgr,
		Summaries:       summary.NewComposer(mgr, completer),
		Stats:           db,
		CompletionModel: completer.Model(),
		Version:         "e2e",
	})
	srv := httptest.NewServer(api.NewRouter(h))
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestEndToEnd_SummaryFlow(t *testing.T) {
	url := startBridge(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"Headaches recur weekly."}}]}`))
	})
	ctx := context.Background()

	c, err := client.New(client.Config{BaseURL: url})
	require.NoError(t, err)

	user, err := c.CreateUser(ctx, "Ada", "ada@example.com", "correct horse")
	require.NoError(t, err)

	_, err = c.Login(ctx, "ADA@example.com", "correct horse")
	require.NoError(t, err)

	me, err := c.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, user.ID, me.ID)

	_, err = c.LogSymptom(ctx, "mild headache")
	require.NoError(t, err)
	_, err = c.LogSymptom(ctx, "rash on arm")
	require.NoError(t, err)

	entries, err := c.ListSymptoms(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "mild headache", entries[0].Text)

	res, err := c.GenerateSummary(ctx, "headache")
	require.NoError(t, err)
	assert.Equal(t, "Headaches recur weekly.", res.Summary)
	assert.Equal(t, "e2e-model", res.Model)
	require.Len(t, res.Retrieved, 1)
	assert.Equal(t, "mild headache", res.Retrieved[0].Text)
}

func TestEndToEnd_UpstreamRateLimitIsRetried(t *testing.T) {
	var calls atomic.Int32
	url := startBridge(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	})
	ctx := context.Background()

	c, err := client.New(client.Config{BaseURL: url, BaseBackoff: time.Millisecond})
	require.NoError(t, err)
	_, err = c.CreateUser(ctx, "Bo", "bo@example.com", "correct horse")
	require.NoError(t, err)
	_, err = c.Login(ctx, "bo@example.com", "correct horse")
	require.NoError(t, err)

	res, err := c.GenerateSummary(ctx, "cough")
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Summary)
	assert.Equal(t, int32(2), calls.Load())
}

func TestEndToEnd_BadCredentials(t *testing.T) {
	url := startBridge(t, func(w http.ResponseWriter, r *http.Request) {})
	c, err := client.New(client.Config{BaseURL: url})
	require.NoError(t, err)

	_, err = c.Login(context.Background(), "nobody@example.com", "whatever1")
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Empty(t, c.Token())

	_, err = c.Me(context.Background())
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
}
