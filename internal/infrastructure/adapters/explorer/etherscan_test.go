package explorer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	domainerrors "github.com/rail-service/deposit_watcher/internal/domain/errors"
)

func TestClient_NativeTransactions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "txlist", q.Get("action"))
		assert.Equal(t, "0xbb", q.Get("address"))
		assert.Equal(t, "key", q.Get("apikey"))
		w.Write([]byte(`{"status":"1","message":"OK","result":[
			{"hash":"0x1","from":"0xaa","to":"0xbb","value":"1500000000000000000","blockNumber":"100","timeStamp":"1700000000","confirmations":"3","isError":"0","txreceipt_status":"1"},
			{"hash":"0x2","from":"0xaa","to":"0xbb","value":"1","blockNumber":"101","timeStamp":"1700000010","confirmations":"2","isError":"1","txreceipt_status":"0"}
		]}`))
	}))
	defer srv.Close()

	c := NewClient("ethereum", srv.URL, "key", 0, zap.NewNop())
	txs, err := c.NativeTransactions(context.Background(), "0xbb")
	require.NoError(t, err)
	require.Len(t, txs, 2)

	assert.Equal(t, "0x1", txs[0].Hash)
	assert.Equal(t, "1500000000000000000", txs[0].Value.String())
	assert.Equal(t, uint64(100), txs[0].BlockNumber)
	assert.Equal(t, int64(1700000000), txs[0].Timestamp.Unix())
	assert.False(t, txs[0].Failed)
	assert.True(t, txs[1].Failed)
}

func TestClient_NoTransactions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"0","message":"No transactions found","result":[]}`))
	}))
	defer srv.Close()

	txs, err := NewClient("ethereum", srv.URL, "", 0, zap.NewNop()).NativeTransactions(context.Background(), "0xbb")
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestClient_ExplorerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"0","message":"NOTOK","result":"Max rate limit reached"}`))
	}))
	defer srv.Close()

	_, err := NewClient("ethereum", srv.URL, "", 0, zap.NewNop()).NativeTransactions(context.Background(), "0xbb")
	require.Error(t, err)
	assert.True(t, domainerrors.IsProviderUnavailable(err))
	var de *domainerrors.DomainError
	require.True(t, errors.As(err, &de))
	assert.Contains(t, de.Details["cause"], "Max rate limit reached")
}
