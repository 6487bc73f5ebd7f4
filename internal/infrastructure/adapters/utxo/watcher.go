package utxo

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rail-service/deposit_watcher/internal/domain/entities"
	domainerrors "github.com/rail-service/deposit_watcher/internal/domain/errors"
)

const (
	defaultPingInterval   = 20 * time.Second
	defaultReconnectDelay = 5 * time.Second
)

// esploraTx is a transaction as served by Esplora
type esploraTx struct {
	TxID string `json:"txid"`
	Vin  []struct {
		Prevout *struct {
			Address string `json:"scriptpubkey_address"`
			Value   int64  `json:"value"`
		} `json:"prevout"`
	} `json:"vin"`
	Vout []struct {
		Address string `json:"scriptpubkey_address"`
		Value   int64  `json:"value"`
	} `json:"vout"`
	Fee    int64 `json:"fee"`
	Status struct {
		Confirmed   bool  `json:"confirmed"`
		BlockHeight int64 `json:"block_height"`
	} `json:"status"`
}

type pushMessage struct {
	AddressTransactions []esploraTx `json:"address-transactions"`
	BlockTransactions   []esploraTx `json:"block-transactions"`
}

// Watcher is a push address-watch service over a mempool style websocket
type Watcher struct {
	chain          string
	url            string
	params         *chaincfg.Params
	dialer         *websocket.Dialer
	pingInterval   time.Duration
	reconnectDelay time.Duration
	logger         *zap.Logger
}

// NewWatcher creates a watcher for chain. Addresses are validated when the
// network is a known bitcoin network.
func NewWatcher(chain, network, pushURL string, logger *zap.Logger) *Watcher {
	params, _ := NetworkParams(network)
	return &Watcher{
		chain:          chain,
		url:            pushURL,
		params:         params,
		dialer:         websocket.DefaultDialer,
		pingInterval:   defaultPingInterval,
		reconnectDelay: defaultReconnectDelay,
		logger:         logger.With(zap.String("chain", chain)),
	}
}

// WatchAddress subscribes to transactions touching address. The returned func
// closes the subscription and waits for the reader to exit.
func (w *Watcher) WatchAddress(ctx context.Context, address string, cb func(entities.UTXONotification)) (func(), error) {
	if err := ValidateAddress(address, w.params); err != nil {
		return nil, domainerrors.ValidationError("address", err.Error())
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	conn, err := w.connect(ctx, address)
	if err != nil {
		cancel()
		return nil, domainerrors.ProviderUnavailableError(w.chain, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.run(runCtx, conn, address, cb)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}, nil
}

func (w *Watcher) connect(ctx context.Context, address string) (*websocket.Conn, error) {
	conn, _, err := w.dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial push service: %w", err)
	}
	if err := conn.WriteJSON(map[string]string{"track-address": address}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe address: %w", err)
	}
	w.logger.Info("Watching address", zap.String("address", address))
	return conn, nil
}

func (w *Watcher) run(ctx context.Context, conn *websocket.Conn, address string, cb func(entities.UTXONotification)) {
	for {
		err := w.readLoop(ctx, conn, address, cb)
		conn.Close()
		if ctx.Err() != nil {
			return
		}
		w.logger.Warn("Push connection lost, reconnecting", zap.String("address", address), zap.Error(err))

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.reconnectDelay):
			}
			conn, err = w.connect(ctx, address)
			if err == nil {
				break
			}
			w.logger.Warn("Reconnect failed", zap.String("address", address), zap.Error(err))
		}
	}
}

func (w *Watcher) readLoop(ctx context.Context, conn *websocket.Conn, address string, cb func(entities.UTXONotification)) error {
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		ticker := time.NewTicker(w.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				deadline := time.Now().Add(5 * time.Second)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		w.dispatch(msg, cb)
	}
}

func (w *Watcher) dispatch(msg []byte, cb func(entities.UTXONotification)) {
	var m pushMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		w.logger.Debug("Ignoring unparseable push message", zap.Error(err))
		return
	}
	for _, tx := range append(m.AddressTransactions, m.BlockTransactions...) {
		cb(w.toNotification(tx))
	}
}

func (w *Watcher) toNotification(tx esploraTx) entities.UTXONotification {
	n := entities.UTXONotification{
		Chain: w.chain,
		Hash:  tx.TxID,
		Fee:   tx.Fee,
	}
	for _, in := range tx.Vin {
		if in.Prevout != nil && in.Prevout.Address != "" {
			n.Inputs = append(n.Inputs, in.Prevout.Address)
		}
	}
	for i, out := range tx.Vout {
		n.Outputs = append(n.Outputs, entities.UTXOOutput{
			Index:   uint32(i),
			Address: out.Address,
			Value:   out.Value,
		})
	}
	if tx.Status.Confirmed {
		n.Confirmations = 1
	}
	return n
}
