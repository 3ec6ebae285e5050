package invoker

import (
	"context"
	stderrors "errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ahwlsqja/buddyguard-ops/internal/chain"
	"github.com/ahwlsqja/buddyguard-ops/internal/chaintest"
	"github.com/ahwlsqja/buddyguard-ops/internal/common/errors"
	"github.com/ahwlsqja/buddyguard-ops/internal/common/metrics"
	"github.com/ahwlsqja/buddyguard-ops/internal/contracts"
	"github.com/ahwlsqja/buddyguard-ops/internal/journal"
)

type fixture struct {
	chain    *chaintest.Chain
	token    *chaintest.Token
	escrow   *chaintest.Escrow
	journal  *journal.MemoryStore
	invoker  *Invoker
	guardian common.Address
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	c := chaintest.New(11155111)
	tok := chaintest.DeployToken(c, chaintest.TokenConfig{Name: "USD Coin", Version: "2", Decimals: 6})
	esc := chaintest.DeployEscrow(c, contracts.BuddyGuardV1, tok.Address())
	tok.Mint(chaintest.AddressOf(chaintest.UserKey), big.NewInt(100_000_000))

	signer, err := chain.NewSigner(chaintest.UserKey)
	require.NoError(t, err)
	session, err := chain.NewSession(context.Background(), c, signer)
	require.NoError(t, err)

	store := journal.NewMemoryStore()
	if opts.PollInterval == 0 {
		opts.PollInterval = time.Millisecond
	}
	if opts.Timeout == 0 {
		opts.Timeout = time.Second
	}
	opts.Journal = store
	return &fixture{
		chain:    c,
		token:    tok,
		escrow:   esc,
		journal:  store,
		invoker:  New(session, zap.NewNop(), opts),
		guardian: chaintest.AddressOf(chaintest.GuardianKey),
	}
}

func v1ABI(t *testing.T) abi.ABI {
	t.Helper()
	parsed, err := contracts.BuddyGuard(contracts.BuddyGuardV1)
	require.NoError(t, err)
	return parsed
}

// createOrder approves the escrow and opens an order paying amount.
func (f *fixture) createOrder(t *testing.T, amount int64) {
	t.Helper()
	ctx := context.Background()
	_, err := f.invoker.Invoke(ctx, Call{
		Action:   "approve-token",
		Contract: f.token.Address(),
		ABI:      contracts.ERC20Permit,
		Method:   contracts.MethodApprove,
		Args:     []any{f.escrow.Address(), big.NewInt(amount)},
	})
	require.NoError(t, err)

	_, err = f.invoker.Invoke(ctx, Call{
		Action:   "create-order",
		Contract: f.escrow.Address(),
		ABI:      v1ABI(t),
		Method:   contracts.MethodCreateOrder,
		Args:     []any{[]common.Address{f.guardian}, big.NewInt(amount)},
	})
	require.NoError(t, err)
}

func (f *fixture) completeOrder(id int64) Call {
	parsed, err := contracts.BuddyGuard(contracts.BuddyGuardV1)
	if err != nil {
		panic(err)
	}
	return Call{
		Action:   "complete-order",
		Contract: f.escrow.Address(),
		ABI:      parsed,
		Method:   contracts.MethodCompleteOrder,
		Args:     []any{big.NewInt(id)},
	}
}

func TestInvoke_Success(t *testing.T) {
	f := newFixture(t, Options{})
	f.createOrder(t, 10_000_000)

	require.Equal(t, 1, f.escrow.Orders())
	assert.Equal(t, "10000000", f.token.BalanceOf(f.escrow.Address()).String())

	entries, err := f.journal.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "create-order", entries[0].Action)
	assert.Equal(t, journal.StatusSuccess, entries[0].Status)
	assert.Equal(t, contracts.MethodCreateOrder, entries[0].Method)
	assert.Equal(t, f.invoker.Session().From().Hex(), entries[0].From)
	assert.NotZero(t, entries[0].Block)
}

func TestInvoke_CompleteOrderTwice(t *testing.T) {
	ctx := context.Background()

	t.Run("second call reverts during estimation", func(t *testing.T) {
		f := newFixture(t, Options{})
		f.createOrder(t, 10_000_000)

		receipt, err := f.invoker.Invoke(ctx, f.completeOrder(0))
		require.NoError(t, err)
		assert.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)
		assert.True(t, f.escrow.Completed(0))
		assert.Equal(t, "10000000", f.token.BalanceOf(f.guardian).String())

		receipt, err = f.invoker.Invoke(ctx, f.completeOrder(0))
		require.Error(t, err)
		assert.Nil(t, receipt)
		assert.True(t, errors.IsCode(err, errors.CodeOnChainRevert))
		appErr, _ := errors.AsAppError(err)
		assert.Equal(t, "order already completed", appErr.Details["reason"])
		assert.False(t, appErr.Retryable())
	})

	t.Run("second call mined with failed status", func(t *testing.T) {
		f := newFixture(t, Options{GasLimit: 200_000})
		f.createOrder(t, 10_000_000)

		_, err := f.invoker.Invoke(ctx, f.completeOrder(0))
		require.NoError(t, err)

		receipt, err := f.invoker.Invoke(ctx, f.completeOrder(0))
		require.Error(t, err)
		require.NotNil(t, receipt)
		assert.Equal(t, types.ReceiptStatusFailed, receipt.Status)

		appErr, ok := errors.AsAppError(err)
		require.True(t, ok)
		assert.Equal(t, errors.CodeOnChainRevert, appErr.Code)
		assert.Equal(t, "order already completed", appErr.Details["reason"])
		assert.Equal(t, receipt.TxHash.Hex(), appErr.Details["tx_hash"])

		entry, err := f.journal.Get(ctx, receipt.TxHash.Hex())
		require.NoError(t, err)
		assert.Equal(t, journal.StatusReverted, entry.Status)
		assert.Equal(t, "order already completed", entry.Reason)
	})
}

func TestInvoke_ContractInterfaceErrors(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	t.Run("no code at address", func(t *testing.T) {
		call := f.completeOrder(0)
		call.Contract = common.HexToAddress("0x000000000000000000000000000000000000dEaD")
		_, err := f.invoker.Invoke(ctx, call)
		assert.True(t, errors.IsCode(err, errors.CodeContractInterface))
	})

	t.Run("method not in abi", func(t *testing.T) {
		call := f.completeOrder(0)
		call.Method = "cancelOrder"
		_, err := f.invoker.Invoke(ctx, call)
		assert.True(t, errors.IsCode(err, errors.CodeContractInterface))
	})

	t.Run("arguments do not match abi", func(t *testing.T) {
		call := f.completeOrder(0)
		call.Args = []any{"zero"}
		_, err := f.invoker.Invoke(ctx, call)
		assert.True(t, errors.IsCode(err, errors.CodeContractInterface))
	})

	assert.Zero(t, f.chain.Receipts())
}

func TestInvoke_NetworkFailure(t *testing.T) {
	f := newFixture(t, Options{})
	f.chain.FailWith(stderrors.New("dial tcp 127.0.0.1:8545: connect: connection refused"))

	_, err := f.invoker.Invoke(context.Background(), f.completeOrder(0))
	require.Error(t, err)
	appErr, ok := errors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, errors.CodeNetwork, appErr.Code)
	assert.True(t, appErr.Retryable())
}

// nodeError is a JSON-RPC error object as ethclient returns it.
type nodeError string

func (e nodeError) Error() string  { return string(e) }
func (e nodeError) ErrorCode() int { return -32000 }

// refusingBackend answers estimation or broadcast with a fixed error.
type refusingBackend struct {
	*chaintest.Chain
	estimateErr error
	sendErr     error
}

func (b refusingBackend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if b.estimateErr != nil {
		return 0, b.estimateErr
	}
	return b.Chain.EstimateGas(ctx, msg)
}

func (b refusingBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if b.sendErr != nil {
		return b.sendErr
	}
	return b.Chain.SendTransaction(ctx, tx)
}

func TestInvoke_NodeRejections(t *testing.T) {
	tests := []struct {
		name        string
		estimateErr error
		sendErr     error
		code        string
		retryable   bool
	}{
		{"insufficient funds on send", nil, nodeError("insufficient funds for gas * price + value: have 0 want 1000"), errors.CodeOnChainRevert, false},
		{"nonce too low as plain text", nil, stderrors.New("nonce too low: next nonce 4, tx nonce 3"), errors.CodeOnChainRevert, false},
		{"replacement underpriced", nil, nodeError("replacement transaction underpriced"), errors.CodeOnChainRevert, false},
		{"fee below base fee", nil, nodeError("max fee per gas less than block base fee: address 0x1, maxFeePerGas: 1, baseFee: 7"), errors.CodeOnChainRevert, false},
		{"insufficient funds on estimate", nodeError("insufficient funds for transfer"), nil, errors.CodeOnChainRevert, false},
		{"transport failure on send", nil, stderrors.New("write tcp 10.0.0.2:51234->10.0.0.3:8545: broken pipe"), errors.CodeNetwork, true},
		{"transport failure on estimate", stderrors.New("read: connection reset by peer"), nil, errors.CodeNetwork, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, Options{})
			signer, err := chain.NewSigner(chaintest.UserKey)
			require.NoError(t, err)
			backend := refusingBackend{Chain: f.chain, estimateErr: tt.estimateErr, sendErr: tt.sendErr}
			session, err := chain.NewSession(ctx, backend, signer)
			require.NoError(t, err)
			reg := metrics.NewJob()
			inv := New(session, zap.NewNop(), Options{PollInterval: time.Millisecond, Timeout: time.Second, Journal: f.journal, Metrics: reg})

			_, err = inv.Invoke(ctx, Call{
				Action:   "approve-token",
				Contract: f.token.Address(),
				ABI:      contracts.ERC20Permit,
				Method:   contracts.MethodApprove,
				Args:     []any{f.escrow.Address(), big.NewInt(1_000)},
			})
			require.Error(t, err)
			appErr, ok := errors.AsAppError(err)
			require.True(t, ok)
			assert.Equal(t, tt.code, appErr.Code)
			assert.Equal(t, tt.retryable, appErr.Retryable())
			if tt.code == errors.CodeOnChainRevert {
				node := tt.sendErr
				if node == nil {
					node = tt.estimateErr
				}
				assert.Contains(t, appErr.Message, node.Error())
			}

			assert.Zero(t, f.chain.Receipts())
			entries, err := f.journal.List(ctx, 0)
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestInvoke_WaitsForReceipt(t *testing.T) {
	ctx := context.Background()

	t.Run("receipt appears after a few polls", func(t *testing.T) {
		f := newFixture(t, Options{})
		f.createOrder(t, 1_000_000)
		f.chain.DelayReceipts(3)

		receipt, err := f.invoker.Invoke(ctx, f.completeOrder(0))
		require.NoError(t, err)
		assert.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)
	})

	t.Run("timeout surfaces as network error", func(t *testing.T) {
		f := newFixture(t, Options{Timeout: 20 * time.Millisecond})
		f.createOrder(t, 1_000_000)
		f.chain.DelayReceipts(1 << 20)

		_, err := f.invoker.Invoke(ctx, f.completeOrder(0))
		require.Error(t, err)
		appErr, ok := errors.AsAppError(err)
		require.True(t, ok)
		assert.Equal(t, errors.CodeNetwork, appErr.Code)
		assert.Contains(t, appErr.Details, "tx_hash")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestInvoke_LegacyFees(t *testing.T) {
	f := newFixture(t, Options{})
	f.chain.UseLegacyFees()
	f.createOrder(t, 1_000_000)

	receipt, err := f.invoker.Invoke(context.Background(), f.completeOrder(0))
	require.NoError(t, err)

	tx, _, err := f.chain.TransactionByHash(context.Background(), receipt.TxHash)
	require.NoError(t, err)
	assert.Equal(t, uint8(types.LegacyTxType), tx.Type())
	assert.Equal(t, "2000000000", tx.GasPrice().String())
}

func TestInvoke_DynamicFees(t *testing.T) {
	f := newFixture(t, Options{})
	f.createOrder(t, 1_000_000)

	receipt, err := f.invoker.Invoke(context.Background(), f.completeOrder(0))
	require.NoError(t, err)

	tx, _, err := f.chain.TransactionByHash(context.Background(), receipt.TxHash)
	require.NoError(t, err)
	assert.Equal(t, uint8(types.DynamicFeeTxType), tx.Type())
	// 2 * base fee + tip
	assert.Equal(t, "3000000000", tx.GasFeeCap().String())
	assert.Equal(t, "1000000000", tx.GasTipCap().String())
}

func TestInvoke_NotIdempotent(t *testing.T) {
	f := newFixture(t, Options{})
	f.createOrder(t, 1_000_000)
	f.createOrder(t, 1_000_000)

	assert.Equal(t, 2, f.escrow.Orders())
	assert.Equal(t, 4, f.chain.Receipts())
}

func TestDeploy(t *testing.T) {
	f := newFixture(t, Options{})
	parsed, err := contracts.BuddyGuard(contracts.BuddyGuardV1)
	require.NoError(t, err)

	bytecode := common.FromHex("0x6080604052348015600f57600080fd5b50")
	f.chain.RegisterFactory(bytecode, chaintest.EscrowFactory(contracts.BuddyGuardV1))

	from := f.invoker.Session().From()
	nonce, err := f.chain.PendingNonceAt(context.Background(), from)
	require.NoError(t, err)

	receipt, err := f.invoker.Deploy(context.Background(), Deployment{
		Action:   "deploy-buddyguard",
		ABI:      parsed,
		Bytecode: bytecode,
		Args:     []any{f.token.Address(), big.NewInt(172800)},
	})
	require.NoError(t, err)
	assert.Equal(t, crypto.CreateAddress(from, nonce), receipt.ContractAddress)

	deployed, ok := f.chain.ContractAt(receipt.ContractAddress).(*chaintest.Escrow)
	require.True(t, ok)
	assert.Equal(t, f.token.Address(), deployed.Token())
	assert.Equal(t, "172800", deployed.CompletionTimeout().String())

	entry, err := f.journal.Get(context.Background(), receipt.TxHash.Hex())
	require.NoError(t, err)
	assert.Equal(t, receipt.ContractAddress.Hex(), entry.Contract)
	assert.Equal(t, "constructor", entry.Method)
}

func TestDeploy_Rejects(t *testing.T) {
	f := newFixture(t, Options{})
	parsed, err := contracts.BuddyGuard(contracts.BuddyGuardV1)
	require.NoError(t, err)

	_, err = f.invoker.Deploy(context.Background(), Deployment{Action: "deploy", ABI: parsed})
	assert.True(t, errors.IsCode(err, errors.CodeInvalidInput))

	_, err = f.invoker.Deploy(context.Background(), Deployment{
		Action:   "deploy",
		ABI:      parsed,
		Bytecode: []byte{0x60, 0x80},
		Args:     []any{f.token.Address()},
	})
	assert.True(t, errors.IsCode(err, errors.CodeContractInterface))
}

func TestCall(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	out, err := f.invoker.Call(ctx, f.token.Address(), contracts.ERC20Permit, contracts.MethodDecimals)
	require.NoError(t, err)
	assert.Equal(t, uint8(6), out[0])

	out, err = f.invoker.Call(ctx, f.token.Address(), contracts.ERC20Permit, contracts.MethodNonces, f.invoker.Session().From())
	require.NoError(t, err)
	nonce, ok := out[0].(*big.Int)
	require.True(t, ok)
	assert.Zero(t, nonce.Sign())

	_, err = f.invoker.Call(ctx, common.HexToAddress("0x000000000000000000000000000000000000bEEF"), contracts.ERC20Permit, contracts.MethodName)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeContractInterface))
	assert.ErrorContains(t, err, "no contract code at address")

	// the escrow does not implement ERC-20 views
	_, err = f.invoker.Call(ctx, f.escrow.Address(), contracts.ERC20Permit, contracts.MethodName)
	assert.True(t, errors.IsCode(err, errors.CodeContractInterface))
}

func TestInvoke_Metrics(t *testing.T) {
	reg := metrics.NewJob()
	f := newFixture(t, Options{Metrics: reg})
	f.createOrder(t, 1_000_000)

	families, err := reg.Gatherer().Gather()
	require.NoError(t, err)
	var found bool
	for _, mf := range families {
		if mf.GetName() == "buddyguard_transactions_total" {
			found = true
			assert.Len(t, mf.GetMetric(), 2)
		}
	}
	assert.True(t, found)
}
