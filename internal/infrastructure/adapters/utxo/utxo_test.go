package utxo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rail-service/deposit_watcher/internal/domain/entities"
	domainerrors "github.com/rail-service/deposit_watcher/internal/domain/errors"
)

const (
	mainnetAddr = "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq"
	txHash      = "4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b"
)

func TestValidateAddress(t *testing.T) {
	assert.NoError(t, ValidateAddress(mainnetAddr, &chaincfg.MainNetParams))
	assert.Error(t, ValidateAddress(mainnetAddr, &chaincfg.TestNet3Params))
	assert.Error(t, ValidateAddress("not-an-address", &chaincfg.MainNetParams))
	assert.NoError(t, ValidateAddress("anything", nil))

	_, ok := NetworkParams("dogecoin")
	assert.False(t, ok)
}

func TestWatcher_DeliversNotifications(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan string, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		var sub map[string]string
		require.NoError(t, conn.ReadJSON(&sub))
		subscribed <- sub["track-address"]

		msg := `{"address-transactions":[{"txid":"` + txHash + `",
			"vin":[{"prevout":{"scriptpubkey_address":"bc1qsender","value":150100000}}],
			"vout":[{"scriptpubkey_address":"bc1qchange","value":80000},{"scriptpubkey_address":"` + mainnetAddr + `","value":150000000}],
			"fee":20000,"status":{"confirmed":false}}]}`
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))

		// hold the connection until the client leaves
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	w := NewWatcher("bitcoin", "mainnet", "ws"+strings.TrimPrefix(srv.URL, "http"), zap.NewNop())

	var mu sync.Mutex
	var got []entities.UTXONotification
	stop, err := w.WatchAddress(context.Background(), mainnetAddr, func(n entities.UTXONotification) {
		mu.Lock()
		got = append(got, n)
		mu.Unlock()
	})
	require.NoError(t, err)
	assert.Equal(t, mainnetAddr, <-subscribed)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)
	stop()
	stop()

	mu.Lock()
	defer mu.Unlock()
	n := got[0]
	assert.Equal(t, txHash, n.Hash)
	assert.Equal(t, []string{"bc1qsender"}, n.Inputs)
	paying := n.PayingOutputs(mainnetAddr)
	require.Len(t, paying, 1)
	assert.Equal(t, uint32(1), paying[0].Index)
	assert.Equal(t, int64(150000000), paying[0].Value)
	assert.Equal(t, 0, n.Confirmations)
}

func TestWatcher_RejectsInvalidAddress(t *testing.T) {
	w := NewWatcher("bitcoin", "mainnet", "ws://127.0.0.1:1", zap.NewNop())
	_, err := w.WatchAddress(context.Background(), "tb1qinvalid", func(entities.UTXONotification) {})
	assert.True(t, domainerrors.IsInvalidInput(err))
}

func TestWatcher_DialFailure(t *testing.T) {
	w := NewWatcher("bitcoin", "mainnet", "ws://127.0.0.1:1", zap.NewNop())
	_, err := w.WatchAddress(context.Background(), mainnetAddr, func(entities.UTXONotification) {})
	assert.True(t, domainerrors.IsProviderUnavailable(err))
}

func TestConfirmationChecker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tx/" + txHash + "/status":
			w.Write([]byte(`{"confirmed":true,"block_height":839998}`))
		case "/blocks/tip/height":
			w.Write([]byte("840000"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewConfirmationChecker("bitcoin", srv.URL, 0, zap.NewNop())

	n, err := c.Confirmations(context.Background(), txHash)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = c.Confirmations(context.Background(), strings.Repeat("0", 64))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = c.Confirmations(context.Background(), "xyz")
	assert.True(t, domainerrors.IsDecodeFailure(err))
}
