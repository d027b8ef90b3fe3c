package provider

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/pilacorp/go-ledger-sdk/identity/common/model"
)

//go:embed did-registry-abi.json
var registryABIJSON string

var (
	registryABI     abi.ABI
	registryABIOnce sync.Once
	errRegistryABI  error
)

// loadRegistryABI ensures the ABI is parsed exactly once.
func loadRegistryABI() (abi.ABI, error) {
	registryABIOnce.Do(func() {
		registryABI, errRegistryABI = abi.JSON(strings.NewReader(registryABIJSON))
	})
	return registryABI, errRegistryABI
}

// RegistryConfig holds connection settings for the on-chain DID registry.
type RegistryConfig struct {
	RPCURL          string
	ContractAddress string
}

// RegistryProvider resolves DID documents from a DID registry contract.
// Documents are stored on-chain as JSON payloads keyed by DID.
type RegistryProvider struct {
	contract *bind.BoundContract
}

// NewRegistryProvider creates a registry-backed resolver.
func NewRegistryProvider(cfg RegistryConfig) (*RegistryProvider, error) {
	if cfg.ContractAddress == "" {
		return nil, errors.New("contract address is required")
	}

	contractABI, err := loadRegistryABI()
	if err != nil {
		return nil, err
	}

	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to DID registry RPC: %w", err)
	}

	addr := common.HexToAddress(cfg.ContractAddress)
	return &RegistryProvider{
		contract: bind.NewBoundContract(addr, contractABI, client, client, client),
	}, nil
}

// DIDResolver queries the registry contract for the document bound to did.
func (p *RegistryProvider) DIDResolver(ctx context.Context, did string) (*model.Document, error) {
	var out []interface{}
	if err := p.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getDocument", did); err != nil {
		return nil, fmt.Errorf("failed to query DID registry: %w", err)
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}

	raw, ok := out[0].(string)
	if !ok || raw == "" {
		return nil, ErrNotFound
	}

	var doc model.Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal DID document JSON: %w", err)
	}

	return &doc, nil
}
