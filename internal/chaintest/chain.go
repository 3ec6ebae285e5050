// Package chaintest is an in-memory chain for tests. It implements
// chain.Backend, mines every accepted transaction into its own block and runs
// Go implementations of the token and escrow contracts against the real ABIs.
package chaintest

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ahwlsqja/buddyguard-ops/internal/chain"
)

// Contract is a contract the chain can execute. Execute must not change
// state unless env.Commit is set, and must check every precondition before
// writing anything.
type Contract interface {
	Code() []byte
	Execute(env *Env, input []byte) ([]byte, error)
}

// Factory builds a contract from constructor arguments during a deployment.
type Factory func(c *Chain, self common.Address, args []byte) (Contract, error)

// Env is the execution context of one call.
type Env struct {
	Chain  *Chain
	From   common.Address
	Self   common.Address
	Time   uint64
	Commit bool
	Logs   []*types.Log
}

// Emit appends a log when the call commits.
func (e *Env) Emit(topics []common.Hash, data []byte) {
	if !e.Commit {
		return
	}
	e.Logs = append(e.Logs, &types.Log{Address: e.Self, Topics: topics, Data: data})
}

// Chain is safe for concurrent use.
type Chain struct {
	mu sync.Mutex

	chainID   *big.Int
	signer    types.Signer
	number    uint64
	headTime  uint64
	nextTime  uint64
	blockTime uint64
	baseFee   *big.Int

	nonces    map[common.Address]uint64
	contracts map[common.Address]Contract
	factories map[string]Factory
	txs       map[common.Hash]*types.Transaction
	receipts  map[common.Hash]*types.Receipt
	polls     map[common.Hash]int

	receiptDelay int
	rpcErr       error
	nextAddr     uint64
}

var _ chain.Backend = (*Chain)(nil)

// New starts a chain at the current wall clock with a 12s block time and
// dynamic fees.
func New(chainID int64) *Chain {
	now := uint64(time.Now().Unix())
	return &Chain{
		chainID:   big.NewInt(chainID),
		signer:    types.LatestSignerForChainID(big.NewInt(chainID)),
		headTime:  now,
		nextTime:  now + 12,
		blockTime: 12,
		baseFee:   big.NewInt(1_000_000_000),
		nonces:    make(map[common.Address]uint64),
		contracts: make(map[common.Address]Contract),
		factories: make(map[string]Factory),
		txs:       make(map[common.Hash]*types.Transaction),
		receipts:  make(map[common.Hash]*types.Receipt),
		polls:     make(map[common.Hash]int),
	}
}

// SetNextBlockTime fixes the timestamp of the next mined block, which is
// also what calls and estimates see as block.timestamp.
func (c *Chain) SetNextBlockTime(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextTime = uint64(t.Unix())
}

// NextBlockTime reports the timestamp pending calls execute at.
func (c *Chain) NextBlockTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Unix(int64(c.nextTime), 0)
}

// UseLegacyFees drops the base fee from headers.
func (c *Chain) UseLegacyFees() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseFee = nil
}

// DelayReceipts hides each receipt for the first n lookups.
func (c *Chain) DelayReceipts(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receiptDelay = n
}

// FailWith makes every RPC method return err until called with nil.
func (c *Chain) FailWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rpcErr = err
}

// Register places contract at a fresh address.
func (c *Chain) Register(contract Contract) common.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextAddr++
	addr := common.BigToAddress(new(big.Int).SetUint64(0xC0DE0000 + c.nextAddr))
	c.contracts[addr] = contract
	return addr
}

// RegisterAt places contract at addr.
func (c *Chain) RegisterAt(addr common.Address, contract Contract) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.contracts[addr] = contract
}

// RegisterFactory makes deployments whose init code starts with bytecode
// construct a contract through f.
func (c *Chain) RegisterFactory(bytecode []byte, f Factory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factories[string(bytecode)] = f
}

// ContractAt returns the contract at addr, or nil.
func (c *Chain) ContractAt(addr common.Address) Contract {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.contracts[addr]
}

func (c *Chain) ChainID(context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpcErr != nil {
		return nil, c.rpcErr
	}
	return new(big.Int).Set(c.chainID), nil
}

func (c *Chain) BlockNumber(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpcErr != nil {
		return 0, c.rpcErr
	}
	return c.number, nil
}

func (c *Chain) HeaderByNumber(_ context.Context, _ *big.Int) (*types.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpcErr != nil {
		return nil, c.rpcErr
	}
	h := &types.Header{
		Number:   new(big.Int).SetUint64(c.number),
		Time:     c.headTime,
		GasLimit: 30_000_000,
	}
	if c.baseFee != nil {
		h.BaseFee = new(big.Int).Set(c.baseFee)
	}
	return h, nil
}

func (c *Chain) SuggestGasPrice(context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpcErr != nil {
		return nil, c.rpcErr
	}
	return big.NewInt(2_000_000_000), nil
}

func (c *Chain) SuggestGasTipCap(context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpcErr != nil {
		return nil, c.rpcErr
	}
	return big.NewInt(1_000_000_000), nil
}

func (c *Chain) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpcErr != nil {
		return 0, c.rpcErr
	}
	return c.nonces[account], nil
}

func (c *Chain) CodeAt(_ context.Context, addr common.Address, _ *big.Int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpcErr != nil {
		return nil, c.rpcErr
	}
	if contract, ok := c.contracts[addr]; ok {
		return contract.Code(), nil
	}
	return nil, nil
}

// CallContract executes against the latest state regardless of blockNumber.
func (c *Chain) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpcErr != nil {
		return nil, c.rpcErr
	}
	if msg.To == nil {
		return nil, nil
	}
	env := &Env{Chain: c, From: msg.From, Self: *msg.To, Time: c.nextTime}
	return c.execute(env, msg.Data)
}

func (c *Chain) EstimateGas(_ context.Context, msg ethereum.CallMsg) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpcErr != nil {
		return 0, c.rpcErr
	}
	if msg.To == nil {
		if _, _, err := c.factoryFor(msg.Data); err != nil {
			return 0, err
		}
		return 1_500_000, nil
	}
	env := &Env{Chain: c, From: msg.From, Self: *msg.To, Time: c.nextTime}
	if _, err := c.execute(env, msg.Data); err != nil {
		return 0, err
	}
	return 120_000, nil
}

// SendTransaction validates the signature and nonce, then mines tx into a new block.
func (c *Chain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpcErr != nil {
		return c.rpcErr
	}

	from, err := types.Sender(c.signer, tx)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}
	switch expected := c.nonces[from]; {
	case tx.Nonce() < expected:
		return fmt.Errorf("nonce too low: address %s, tx: %d state: %d", from.Hex(), tx.Nonce(), expected)
	case tx.Nonce() > expected:
		return fmt.Errorf("nonce too high: address %s, tx: %d state: %d", from.Hex(), tx.Nonce(), expected)
	}
	if c.baseFee != nil && tx.GasFeeCap().Cmp(c.baseFee) < 0 {
		return fmt.Errorf("max fee per gas less than block base fee")
	}

	c.number++
	c.headTime = c.nextTime
	c.nextTime += c.blockTime
	c.nonces[from]++

	receipt := &types.Receipt{
		Type:              tx.Type(),
		Status:            types.ReceiptStatusSuccessful,
		TxHash:            tx.Hash(),
		BlockNumber:       new(big.Int).SetUint64(c.number),
		GasUsed:           min(tx.Gas(), 90_000),
		CumulativeGasUsed: min(tx.Gas(), 90_000),
		EffectiveGasPrice: tx.GasPrice(),
	}

	env := &Env{Chain: c, From: from, Time: c.headTime}
	if tx.To() == nil {
		receipt.ContractAddress = crypto.CreateAddress(from, tx.Nonce())
		env.Self = receipt.ContractAddress
		if !c.deploy(env, tx.Data()) {
			receipt.Status = types.ReceiptStatusFailed
		}
	} else {
		env.Self = *tx.To()
		if _, err := c.execute(env, tx.Data()); err != nil {
			receipt.Status = types.ReceiptStatusFailed
		} else {
			env.Commit = true
			if _, err := c.execute(env, tx.Data()); err != nil {
				receipt.Status = types.ReceiptStatusFailed
			}
		}
	}
	if receipt.Status == types.ReceiptStatusSuccessful {
		for idx, l := range env.Logs {
			l.TxHash = tx.Hash()
			l.BlockNumber = c.number
			l.Index = uint(idx)
		}
		receipt.Logs = env.Logs
	}

	c.txs[tx.Hash()] = tx
	c.receipts[tx.Hash()] = receipt
	return nil
}

func (c *Chain) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpcErr != nil {
		return nil, c.rpcErr
	}
	receipt, ok := c.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	if c.polls[hash] < c.receiptDelay {
		c.polls[hash]++
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

func (c *Chain) TransactionByHash(_ context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpcErr != nil {
		return nil, false, c.rpcErr
	}
	tx, ok := c.txs[hash]
	if !ok {
		return nil, false, ethereum.NotFound
	}
	return tx, false, nil
}

// Receipts returns the number of mined transactions.
func (c *Chain) Receipts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.receipts)
}

// execute runs a call with the lock held. A call to an address without a
// contract succeeds with no output, like a plain transfer.
func (c *Chain) execute(env *Env, input []byte) ([]byte, error) {
	contract, ok := c.contracts[env.Self]
	if !ok {
		return nil, nil
	}
	return contract.Execute(env, input)
}

// Invoke lets one fake contract call another within the same transaction.
func (e *Env) Invoke(to common.Address, input []byte) ([]byte, error) {
	inner := &Env{Chain: e.Chain, From: e.Self, Self: to, Time: e.Time, Commit: e.Commit}
	out, err := e.Chain.execute(inner, input)
	e.Logs = append(e.Logs, inner.Logs...)
	return out, err
}

func (c *Chain) factoryFor(data []byte) (Factory, []byte, error) {
	for code, f := range c.factories {
		if bytes.HasPrefix(data, []byte(code)) {
			return f, data[len(code):], nil
		}
	}
	return nil, nil, Revert("")
}

func (c *Chain) deploy(env *Env, data []byte) bool {
	f, args, err := c.factoryFor(data)
	if err != nil {
		return false
	}
	contract, err := f(c, env.Self, args)
	if err != nil {
		return false
	}
	c.contracts[env.Self] = contract
	return true
}
