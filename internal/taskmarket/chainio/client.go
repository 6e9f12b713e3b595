// Package chainio binds the ledger capability set to the TaskMarketplace
// contract over a go-ethereum backend.
package chainio

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/trigg3rX/taskmarket/internal/taskmarket/ledger"
	"github.com/trigg3rX/taskmarket/pkg/logging"
)

// Backend is what the client needs from an RPC connection. *ethclient.Client
// satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Config selects the network, the contract and the signing identity.
type Config struct {
	RPCURL   string
	ChainID  int64
	Contract common.Address
	// PrivateKey is hex encoded. Empty means a read-only session.
	PrivateKey string
	// Caller is the identity used for caller-relative reads in a read-only
	// session. Ignored when PrivateKey is set.
	Caller common.Address
}

// Client implements ledger.Ledger against the marketplace contract.
type Client struct {
	backend  Backend
	abi      abi.ABI
	address  common.Address
	contract *bind.BoundContract
	caller   common.Address
	auth     *bind.TransactOpts
	logger   logging.Logger

	// sendMu serializes gas estimation, nonce allocation and broadcast.
	sendMu sync.Mutex
	closer func()
}

var _ ledger.Ledger = (*Client)(nil)

// NewClient binds the contract at address on backend. auth may be nil for a
// read-only client.
func NewClient(backend Backend, address, caller common.Address, auth *bind.TransactOpts, logger logging.Logger) (*Client, error) {
	parsed, err := ParsedABI()
	if err != nil {
		return nil, fmt.Errorf("failed to parse marketplace ABI: %w", err)
	}
	if auth != nil {
		caller = auth.From
	}
	return &Client{
		backend:  backend,
		abi:      parsed,
		address:  address,
		contract: bind.NewBoundContract(address, parsed, backend, backend, backend),
		caller:   caller,
		auth:     auth,
		logger:   logger,
	}, nil
}

// Dial connects to cfg.RPCURL, checks the network and the contract, and
// returns a client signing with cfg.PrivateKey when one is given.
func Dial(ctx context.Context, cfg Config, logger logging.Logger) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC %s: %w", cfg.RPCURL, err)
	}

	chainID, err := ec.ChainID(ctx)
	if err != nil {
		ec.Close()
		return nil, fmt.Errorf("failed to fetch chain id: %w", err)
	}
	if cfg.ChainID != 0 && chainID.Int64() != cfg.ChainID {
		ec.Close()
		return nil, fmt.Errorf("connected to chain %s, expected %d", chainID, cfg.ChainID)
	}

	code, err := ec.CodeAt(ctx, cfg.Contract, nil)
	if err != nil {
		ec.Close()
		return nil, fmt.Errorf("failed to fetch contract code: %w", err)
	}
	if len(code) == 0 {
		ec.Close()
		return nil, fmt.Errorf("no contract deployed at %s", cfg.Contract.Hex())
	}

	var auth *bind.TransactOpts
	if cfg.PrivateKey != "" {
		key, err := parsePrivateKey(cfg.PrivateKey)
		if err != nil {
			ec.Close()
			return nil, err
		}
		auth, err = bind.NewKeyedTransactorWithChainID(key, chainID)
		if err != nil {
			ec.Close()
			return nil, fmt.Errorf("failed to create transactor: %w", err)
		}
	}

	client, err := NewClient(ec, cfg.Contract, cfg.Caller, auth, logger)
	if err != nil {
		ec.Close()
		return nil, err
	}
	client.closer = ec.Close

	logger.Info("Connected to marketplace",
		"chain_id", chainID.String(),
		"contract", cfg.Contract.Hex(),
		"caller", client.caller.Hex(),
		"read_only", client.ReadOnly(),
	)
	return client, nil
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return key, nil
}

// Address returns the caller identity.
func (c *Client) Address() common.Address {
	return c.caller
}

// ReadOnly reports whether the client has no signing key.
func (c *Client) ReadOnly() bool {
	return c.auth == nil
}

// Close releases the RPC connection when the client owns it.
func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}
