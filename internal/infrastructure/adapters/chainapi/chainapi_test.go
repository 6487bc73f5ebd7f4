package chainapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rail-service/deposit_watcher/internal/domain/entities"
)

func TestClient_GetDecodesJSONAndSendsKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		assert.Equal(t, "/things", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("page"))
		w.Write([]byte(`{"name":"ok"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{Name: "test", BaseURL: srv.URL + "/", APIKey: "secret", APIKeyHeader: "X-API-Key"}, zap.NewNop())

	var out struct {
		Name string `json:"name"`
	}
	require.NoError(t, c.Get(context.Background(), "/things", url.Values{"page": {"1"}}, &out))
	assert.Equal(t, "ok", out.Name)
}

func TestClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "missing", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(Config{Name: "test", BaseURL: srv.URL}, zap.NewNop())
	err := c.Get(context.Background(), "/tx/abc", nil, nil)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestClient_GetText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("840000\n"))
	}))
	defer srv.Close()

	c := NewClient(Config{Name: "test", BaseURL: srv.URL}, zap.NewNop())
	s, err := c.GetText(context.Background(), "/blocks/tip/height")
	require.NoError(t, err)
	assert.Equal(t, "840000", s)
}

func TestClient_BreakerOpensOnServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(Config{Name: "test", BaseURL: srv.URL}, zap.NewNop())
	for i := 0; i < 10; i++ {
		_ = c.Get(context.Background(), "/", nil, nil)
	}
	assert.Equal(t, int32(6), hits.Load())
}

func TestPoller_ReportsNewAndChangedTransfers(t *testing.T) {
	var mu sync.Mutex
	round := 0
	fetch := func(ctx context.Context, address string) ([]entities.ChainTransfer, error) {
		mu.Lock()
		defer mu.Unlock()
		round++
		status := entities.PendingStatusPending
		if round >= 3 {
			status = entities.PendingStatusCompleted
		}
		return []entities.ChainTransfer{{Hash: "a", Status: status}}, nil
	}

	var got []entities.ChainTransfer
	var gotMu sync.Mutex
	stop, err := NewPoller(2*time.Millisecond, zap.NewNop()).Watch(context.Background(), "addr", fetch, func(t entities.ChainTransfer) {
		gotMu.Lock()
		got = append(got, t)
		gotMu.Unlock()
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		gotMu.Lock()
		defer gotMu.Unlock()
		return len(got) == 2
	}, time.Second, 2*time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	stop()
	stop()

	gotMu.Lock()
	defer gotMu.Unlock()
	require.Len(t, got, 2)
	assert.Equal(t, entities.PendingStatusPending, got[0].Status)
	assert.Equal(t, entities.PendingStatusCompleted, got[1].Status)
}
