package tron

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rail-service/deposit_watcher/internal/domain/entities"
	domainerrors "github.com/rail-service/deposit_watcher/internal/domain/errors"
)

const (
	usdtContract = "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"
	watchHex     = "41a614f803b6fd780986a42c78ec9c7f77e6ded13c"
	senderHex    = "419c86d1f3d1f3a8c0ff6cbb4e0a0d2fdd4b5b7c3a"
)

type fakeTokens struct{}

func (fakeTokens) TokenByContract(chain, address string) (entities.Token, bool) {
	if address == usdtContract {
		return entities.Token{Chain: chain, Currency: "USDT", ContractAddress: usdtContract, Decimals: 6}, true
	}
	return entities.Token{}, false
}

func (fakeTokens) GetToken(chain, currency string) (entities.Token, error) {
	if currency == "USDT" {
		return entities.Token{Chain: chain, Currency: "USDT", ContractAddress: usdtContract, Decimals: 6}, nil
	}
	return entities.Token{}, domainerrors.UnsupportedTokenError(chain, currency)
}

func TestAddressConversion(t *testing.T) {
	addr, err := HexToBase58(watchHex)
	require.NoError(t, err)
	assert.Equal(t, byte('T'), addr[0])
	assert.NoError(t, ValidateAddress(addr))
	assert.NoError(t, ValidateAddress(usdtContract))

	assert.Error(t, ValidateAddress("0xabc"))
	_, err = HexToBase58("00ff")
	assert.Error(t, err)
}

func newTronServer(t *testing.T, watch string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("TRON-PRO-API-KEY"))
		switch r.URL.Path {
		case "/v1/accounts/" + watch + "/transactions/trc20":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"success": true,
				"data": []map[string]interface{}{{
					"transaction_id": "trc20-tx",
					"token_info":     map[string]interface{}{"address": usdtContract, "symbol": "USDT", "decimals": 6},
					"from":           "TSender",
					"to":             watch,
					"type":           "Transfer",
					"value":          "5000000",
				}},
			})
		case "/v1/accounts/" + watch + "/transactions":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"success": true,
				"data": []map[string]interface{}{{
					"txID": "trx-tx",
					"ret":  []map[string]string{{"contractRet": "SUCCESS"}},
					"raw_data": map[string]interface{}{
						"contract": []map[string]interface{}{{
							"type": "TransferContract",
							"parameter": map[string]interface{}{
								"value": map[string]interface{}{"amount": 2500000, "owner_address": senderHex, "to_address": watchHex},
							},
						}},
					},
				}},
			})
		case "/walletsolidity/gettransactioninfobyid":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			if body["value"] == "trc20-tx" {
				w.Write([]byte(`{"id":"trc20-tx","blockNumber":100,"fee":345000,"receipt":{"result":"SUCCESS"}}`))
				return
			}
			w.Write([]byte(`{}`))
		case "/v1/accounts/" + watch:
			w.Write([]byte(`{"data":[{"balance":12000000,"trc20":[{"` + usdtContract + `":"9000000"}]}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestService_Transfers(t *testing.T) {
	watch, err := HexToBase58(watchHex)
	require.NoError(t, err)
	srv := newTronServer(t, watch)
	defer srv.Close()

	svc := NewService("tron", "trx", srv.URL, "key", fakeTokens{}, time.Second, 0, zap.NewNop())
	transfers, err := svc.Transfers(context.Background(), watch)
	require.NoError(t, err)
	require.Len(t, transfers, 2)

	assert.Equal(t, "trc20-tx", transfers[0].Hash)
	assert.Equal(t, "USDT", transfers[0].Currency)
	assert.Equal(t, "5000000", transfers[0].Amount.String())
	assert.Equal(t, entities.PendingStatusCompleted, transfers[0].Status)
	assert.Equal(t, "345000", transfers[0].Fee.String())

	assert.Equal(t, "trx-tx", transfers[1].Hash)
	assert.Equal(t, "TRX", transfers[1].Currency)
	assert.Equal(t, "2500000", transfers[1].Amount.String())
	assert.Equal(t, entities.PendingStatusPending, transfers[1].Status)
}

func TestService_GetBalance(t *testing.T) {
	watch, err := HexToBase58(watchHex)
	require.NoError(t, err)
	srv := newTronServer(t, watch)
	defer srv.Close()

	svc := NewService("tron", "TRX", srv.URL, "key", fakeTokens{}, time.Second, 0, zap.NewNop())

	bal, err := svc.GetBalance(context.Background(), watch, "TRX")
	require.NoError(t, err)
	assert.Equal(t, "12000000", bal.String())

	bal, err = svc.GetBalance(context.Background(), watch, "USDT")
	require.NoError(t, err)
	assert.Equal(t, "9000000", bal.String())
}
