package ton

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rail-service/deposit_watcher/internal/domain/entities"
	domainerrors "github.com/rail-service/deposit_watcher/internal/domain/errors"
)

var watchAddr = "EQ" + strings.Repeat("A", 46)

func newToncenter(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("X-API-Key"))
		assert.Equal(t, watchAddr, r.URL.Query().Get("address"))
		switch r.URL.Path {
		case "/api/v2/getTransactions":
			w.Write([]byte(`{"ok":true,"result":[
				{"transaction_id":{"lt":"2","hash":"in-hash"},"fee":"1000","in_msg":{"source":"EQsender","destination":"` + watchAddr + `","value":"1500000000"}},
				{"transaction_id":{"lt":"1","hash":"external-hash"},"fee":"900","in_msg":{"source":"","destination":"` + watchAddr + `","value":"0"}}
			]}`))
		case "/api/v2/getAddressBalance":
			w.Write([]byte(`{"ok":true,"result":"4200000000"}`))
		default:
			w.Write([]byte(`{"ok":false,"error":"unknown method"}`))
		}
	}))
}

func TestService_Transfers(t *testing.T) {
	srv := newToncenter(t)
	defer srv.Close()

	svc := NewService("ton", "ton", srv.URL, "key", time.Second, 0, zap.NewNop())
	transfers, err := svc.Transfers(context.Background(), watchAddr)
	require.NoError(t, err)
	require.Len(t, transfers, 1)

	assert.Equal(t, "in-hash", transfers[0].Hash)
	assert.Equal(t, "TON", transfers[0].Currency)
	assert.Equal(t, "1500000000", transfers[0].Amount.String())
	assert.Equal(t, "1000", transfers[0].Fee.String())
	assert.Equal(t, entities.PendingStatusCompleted, transfers[0].Status)
}

func TestService_GetBalance(t *testing.T) {
	srv := newToncenter(t)
	defer srv.Close()

	svc := NewService("ton", "TON", srv.URL, "key", time.Second, 0, zap.NewNop())
	bal, err := svc.GetBalance(context.Background(), watchAddr, "TON")
	require.NoError(t, err)
	assert.Equal(t, "4200000000", bal.String())

	_, err = svc.GetBalance(context.Background(), watchAddr, "USDT")
	assert.ErrorIs(t, err, domainerrors.ErrUnsupportedToken)
}

func TestValidateAddress(t *testing.T) {
	assert.NoError(t, ValidateAddress(watchAddr))
	assert.NoError(t, ValidateAddress("0:"+strings.Repeat("ab", 32)))
	assert.Error(t, ValidateAddress("x:abc"))
	assert.Error(t, ValidateAddress("short"))
}
