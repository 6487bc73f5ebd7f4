// Package registry exposes the static chain and token configuration.
package registry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rail-service/deposit_watcher/internal/domain/entities"
	domainerrors "github.com/rail-service/deposit_watcher/internal/domain/errors"
	"github.com/rail-service/deposit_watcher/internal/infrastructure/config"
)

// Registry is an immutable lookup of chains and tokens
type Registry struct {
	chains     map[string]entities.ChainConfig
	tokens     map[string]map[string]entities.Token
	byContract map[string]entities.Token
	endpoints  map[string]config.ChainConfig
}

// New builds a registry from the chains section of the configuration
func New(chains map[string]config.ChainConfig) (*Registry, error) {
	r := &Registry{
		chains:     make(map[string]entities.ChainConfig, len(chains)),
		tokens:     make(map[string]map[string]entities.Token, len(chains)),
		byContract: make(map[string]entities.Token),
		endpoints:  make(map[string]config.ChainConfig, len(chains)),
	}

	for rawName, cc := range chains {
		name := strings.ToLower(rawName)
		family, err := entities.ParseChainFamily(cc.Family)
		if err != nil {
			return nil, fmt.Errorf("chain %s: %w", name, err)
		}

		native := strings.ToUpper(cc.NativeCurrency)
		r.chains[name] = entities.ChainConfig{
			Name:           name,
			Family:         family,
			NativeCurrency: native,
			Decimals:       int32(cc.Decimals),
			Confirmations:  cc.Confirmations,
			Network:        cc.Network,
		}
		r.endpoints[name] = cc

		tokens := make(map[string]entities.Token, len(cc.Tokens)+1)
		if native != "" {
			tokens[native] = entities.Token{
				Chain:    name,
				Currency: native,
				Decimals: int32(cc.Decimals),
			}
		}
		for rawCurrency, tc := range cc.Tokens {
			currency := strings.ToUpper(rawCurrency)
			contractType := strings.ToLower(tc.ContractType)
			if contractType == "" {
				contractType = entities.TokenContractTypeStandard
			}
			token := entities.Token{
				Chain:           name,
				Currency:        currency,
				ContractAddress: tc.Address,
				Decimals:        int32(tc.Decimals),
				ContractType:    contractType,
			}
			tokens[currency] = token
			r.byContract[contractKey(name, tc.Address)] = token
		}
		r.tokens[name] = tokens
	}

	return r, nil
}

func contractKey(chain, address string) string {
	return chain + ":" + entities.NormalizeAddress(address)
}

// GetChainConfig returns the configuration of chain
func (r *Registry) GetChainConfig(chain string) (entities.ChainConfig, error) {
	cfg, ok := r.chains[strings.ToLower(chain)]
	if !ok {
		return entities.ChainConfig{}, domainerrors.UnsupportedChainError(chain)
	}
	return cfg, nil
}

// GetToken returns the token for currency on chain
func (r *Registry) GetToken(chain, currency string) (entities.Token, error) {
	tokens, ok := r.tokens[strings.ToLower(chain)]
	if !ok {
		return entities.Token{}, domainerrors.UnsupportedChainError(chain)
	}
	token, ok := tokens[strings.ToUpper(currency)]
	if !ok {
		return entities.Token{}, domainerrors.UnsupportedTokenError(chain, currency)
	}
	return token, nil
}

// TokenByContract finds a token by its contract address on chain
func (r *Registry) TokenByContract(chain, address string) (entities.Token, bool) {
	token, ok := r.byContract[contractKey(strings.ToLower(chain), address)]
	return token, ok
}

// Tokens returns the contract tokens (native excluded) configured on chain, sorted by currency
func (r *Registry) Tokens(chain string) []entities.Token {
	var out []entities.Token
	for _, token := range r.tokens[strings.ToLower(chain)] {
		if !token.IsNative() {
			out = append(out, token)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out
}

// Chains returns every configured chain name, sorted
func (r *Registry) Chains() []string {
	names := make([]string, 0, len(r.chains))
	for name := range r.chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Endpoints returns the connection settings of chain
func (r *Registry) Endpoints(chain string) (config.ChainConfig, bool) {
	cc, ok := r.endpoints[strings.ToLower(chain)]
	return cc, ok
}
