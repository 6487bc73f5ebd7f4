package main

import (
	"fmt"

	"github.com/rail-service/deposit_watcher/internal/domain/entities"
	"github.com/rail-service/deposit_watcher/internal/domain/services/deposit"
	"github.com/rail-service/deposit_watcher/internal/domain/services/monitor"
	"github.com/rail-service/deposit_watcher/internal/infrastructure/adapters/explorer"
	"github.com/rail-service/deposit_watcher/internal/infrastructure/adapters/monero"
	"github.com/rail-service/deposit_watcher/internal/infrastructure/adapters/solana"
	"github.com/rail-service/deposit_watcher/internal/infrastructure/adapters/ton"
	"github.com/rail-service/deposit_watcher/internal/infrastructure/adapters/tron"
	"github.com/rail-service/deposit_watcher/internal/infrastructure/adapters/utxo"
	"github.com/rail-service/deposit_watcher/internal/infrastructure/config"
	"github.com/rail-service/deposit_watcher/internal/infrastructure/registry"
	"github.com/rail-service/deposit_watcher/pkg/logger"
)

// chainServices holds the per-chain adapters the engine dispatches to
type chainServices struct {
	explorers     map[string]monitor.Explorer
	utxoWatchers  map[string]monitor.AddressWatcher
	watchServices map[string]monitor.WatchService
	checkers      map[string]deposit.ConfirmationChecker
}

func buildChainServices(reg *registry.Registry, engineCfg config.EngineConfig, log *logger.Logger) (*chainServices, error) {
	cs := &chainServices{
		explorers:     make(map[string]monitor.Explorer),
		utxoWatchers:  make(map[string]monitor.AddressWatcher),
		watchServices: make(map[string]monitor.WatchService),
		checkers:      make(map[string]deposit.ConfirmationChecker),
	}
	zl := log.Zap()

	for _, name := range reg.Chains() {
		chain, err := reg.GetChainConfig(name)
		if err != nil {
			return nil, err
		}
		ep, _ := reg.Endpoints(name)

		switch chain.Family {
		case entities.ChainFamilyEVM:
			if ep.ExplorerURL != "" {
				cs.explorers[name] = explorer.NewClient(name, ep.ExplorerURL, ep.ExplorerAPIKey, ep.RateLimit, zl)
			}
		case entities.ChainFamilyMO:
			// log polling runs over the provider manager only
		case entities.ChainFamilyUTXO:
			if ep.PushURL == "" {
				return nil, fmt.Errorf("chain %s: push_url is required for utxo chains", name)
			}
			cs.utxoWatchers[name] = utxo.NewWatcher(name, chain.Network, ep.PushURL, zl)
			cs.checkers[name] = utxo.NewConfirmationChecker(name, ep.RPC, ep.RateLimit, zl)
		case entities.ChainFamilySolana:
			cs.watchServices[name] = solana.NewService(name, chain.NativeCurrency, ep.RPC, reg, engineCfg.SDKPollInterval, ep.RateLimit, zl)
		case entities.ChainFamilyTron:
			cs.watchServices[name] = tron.NewService(name, chain.NativeCurrency, ep.RPC, ep.APIKey, reg, engineCfg.SDKPollInterval, ep.RateLimit, zl)
		case entities.ChainFamilyMonero:
			cs.watchServices[name] = monero.NewService(name, chain.NativeCurrency, ep.RPC, chain.Confirmations, engineCfg.SDKPollInterval, zl)
		case entities.ChainFamilyTon:
			cs.watchServices[name] = ton.NewService(name, chain.NativeCurrency, ep.RPC, ep.APIKey, engineCfg.SDKPollInterval, ep.RateLimit, zl)
		}

		log.Info("Chain configured", "chain", name, "family", string(chain.Family), "confirmations", chain.Confirmations)
	}
	return cs, nil
}
