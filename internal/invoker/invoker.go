package invoker

import (
	"context"
	stderrors "errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/ahwlsqja/buddyguard-ops/internal/chain"
	"github.com/ahwlsqja/buddyguard-ops/internal/common/errors"
	"github.com/ahwlsqja/buddyguard-ops/internal/common/metrics"
	"github.com/ahwlsqja/buddyguard-ops/internal/journal"
)

const (
	DefaultPollInterval = time.Second
	DefaultTimeout      = 2 * time.Minute
)

// statusRejected labels metrics for transactions the node refused.
const statusRejected = "rejected"

// Call describes one state-changing contract call.
type Call struct {
	// Action labels the call in logs, metrics and the journal.
	Action   string
	Contract common.Address
	ABI      abi.ABI
	Method   string
	Args     []any
	Value    *big.Int
}

// Deployment describes one contract creation.
type Deployment struct {
	Action   string
	ABI      abi.ABI
	Bytecode []byte
	Args     []any
}

type Options struct {
	PollInterval time.Duration
	Timeout      time.Duration
	// GasLimit skips estimation when non-zero.
	GasLimit uint64
	Journal  journal.Store
	Metrics  *metrics.Registry
}

// Invoker signs, submits and confirms transactions for one session.
// It never retries: a failed call is reported, and calling again sends a new transaction.
type Invoker struct {
	session *chain.Session
	opts    Options
	logger  *zap.Logger
}

func New(session *chain.Session, logger *zap.Logger, opts Options) *Invoker {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Journal == nil {
		opts.Journal = journal.NopStore{}
	}
	return &Invoker{session: session, opts: opts, logger: logger}
}

func (i *Invoker) Session() *chain.Session {
	return i.session
}

// Invoke submits c and waits for its receipt. A mined transaction with a
// failed status is returned together with an OnChainRevert error.
func (i *Invoker) Invoke(ctx context.Context, c Call) (*types.Receipt, error) {
	if _, ok := c.ABI.Methods[c.Method]; !ok {
		return nil, errors.ContractInterface(c.Contract.Hex(), c.Method, stderrors.New("method not in ABI"))
	}
	data, err := c.ABI.Pack(c.Method, c.Args...)
	if err != nil {
		return nil, errors.ContractInterface(c.Contract.Hex(), c.Method, err)
	}

	code, err := i.session.Backend.CodeAt(ctx, c.Contract, nil)
	if err != nil {
		return nil, errors.Network("eth_getCode", err)
	}
	if len(code) == 0 {
		return nil, errors.ContractInterface(c.Contract.Hex(), c.Method, stderrors.New("no contract code at address"))
	}

	to := c.Contract
	return i.submit(ctx, c.Action, c.Method, &to, data, c.Value)
}

// Deploy creates a contract and waits for its receipt. The new address is
// receipt.ContractAddress.
func (i *Invoker) Deploy(ctx context.Context, d Deployment) (*types.Receipt, error) {
	if len(d.Bytecode) == 0 {
		return nil, errors.InvalidInput("artifact has no bytecode")
	}
	args, err := d.ABI.Pack("", d.Args...)
	if err != nil {
		return nil, errors.ContractInterface(d.Action, "constructor", err)
	}
	data := append(append([]byte{}, d.Bytecode...), args...)
	return i.submit(ctx, d.Action, "constructor", nil, data, nil)
}

func (i *Invoker) submit(ctx context.Context, action, method string, to *common.Address, data []byte, value *big.Int) (*types.Receipt, error) {
	backend := i.session.Backend
	from := i.session.From()
	if value == nil {
		value = new(big.Int)
	}

	nonce, err := backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, errors.Network("eth_getTransactionCount", err)
	}

	quote, err := i.suggestFees(ctx)
	if err != nil {
		return nil, err
	}

	msg := ethereum.CallMsg{
		From:      from,
		To:        to,
		Value:     value,
		Data:      data,
		GasPrice:  quote.gasPrice,
		GasFeeCap: quote.feeCap,
		GasTipCap: quote.tipCap,
	}

	gas := i.opts.GasLimit
	if gas == 0 {
		gas, err = backend.EstimateGas(ctx, msg)
		if err != nil {
			if reason, ok := revertReason(err); ok {
				i.opts.Metrics.IncTransaction(action, journal.StatusReverted)
				i.logger.Warn("call reverted during estimation",
					zap.String("action", action),
					zap.String("method", method),
					zap.String("reason", reason),
				)
				return nil, errors.OnChainRevert(method, reason, "").WithError(err)
			}
			if reason, ok := rejection(err); ok {
				return nil, i.rejected(action, method, "eth_estimateGas", reason, err)
			}
			return nil, errors.Network("eth_estimateGas", err)
		}
	}

	var tx *types.Transaction
	if quote.feeCap != nil {
		tx = types.NewTx(&types.DynamicFeeTx{
			ChainID:   i.session.ChainID,
			Nonce:     nonce,
			GasTipCap: quote.tipCap,
			GasFeeCap: quote.feeCap,
			Gas:       gas,
			To:        to,
			Value:     value,
			Data:      data,
		})
	} else {
		tx = types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: quote.gasPrice,
			Gas:      gas,
			To:       to,
			Value:    value,
			Data:     data,
		})
	}

	signed, err := i.session.Signer.SignTx(tx, i.session.ChainID)
	if err != nil {
		return nil, errors.Internal("failed to sign transaction").WithError(err)
	}

	if err := backend.SendTransaction(ctx, signed); err != nil {
		if reason, ok := rejection(err); ok {
			return nil, i.rejected(action, method, "eth_sendRawTransaction", reason, err)
		}
		return nil, errors.Network("eth_sendRawTransaction", err)
	}

	i.logger.Info("transaction sent",
		zap.String("action", action),
		zap.String("method", method),
		zap.String("tx_hash", signed.Hash().Hex()),
		zap.Uint64("nonce", nonce),
		zap.Uint64("gas", gas),
	)

	sentAt := time.Now()
	receipt, err := i.waitForReceipt(ctx, signed.Hash())
	if err != nil {
		return nil, err
	}
	i.opts.Metrics.ObserveReceiptWait(time.Since(sentAt))

	var contract string
	if to != nil {
		contract = to.Hex()
	} else {
		contract = receipt.ContractAddress.Hex()
	}
	entry := journal.NewEntry(action, contract, method, from.Hex(), signed.Hash().Hex())
	entry.Block = receipt.BlockNumber.Uint64()
	entry.GasUsed = receipt.GasUsed

	if receipt.Status != types.ReceiptStatusSuccessful {
		reason := i.replayReason(ctx, msg, receipt.BlockNumber)
		entry.Status = journal.StatusReverted
		entry.Reason = reason
		i.record(ctx, entry)
		i.opts.Metrics.IncTransaction(action, journal.StatusReverted)

		i.logger.Error("transaction reverted",
			zap.String("action", action),
			zap.String("tx_hash", signed.Hash().Hex()),
			zap.Uint64("block", entry.Block),
			zap.String("reason", reason),
		)
		return receipt, errors.OnChainRevert(method, reason, signed.Hash().Hex())
	}

	entry.Status = journal.StatusSuccess
	i.record(ctx, entry)
	i.opts.Metrics.IncTransaction(action, journal.StatusSuccess)

	i.logger.Info("transaction confirmed",
		zap.String("action", action),
		zap.String("tx_hash", signed.Hash().Hex()),
		zap.Uint64("block", entry.Block),
		zap.Uint64("gas_used", receipt.GasUsed),
	)
	return receipt, nil
}

// rejected reports a transaction the node refused before mining. Nothing
// was broadcast, so there is no hash and nothing to journal.
func (i *Invoker) rejected(action, method, op, reason string, err error) error {
	i.opts.Metrics.IncTransaction(action, statusRejected)
	i.logger.Warn("transaction rejected by node",
		zap.String("action", action),
		zap.String("method", method),
		zap.String("op", op),
		zap.String("reason", reason),
	)
	return errors.OnChainRevert(method, reason, "").WithError(err)
}

type feeQuote struct {
	gasPrice *big.Int
	tipCap   *big.Int
	feeCap   *big.Int
}

// suggestFees uses dynamic fees when the head block carries a base fee.
func (i *Invoker) suggestFees(ctx context.Context) (feeQuote, error) {
	backend := i.session.Backend

	head, err := backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return feeQuote{}, errors.Network("eth_getBlockByNumber", err)
	}

	if head.BaseFee == nil {
		price, err := backend.SuggestGasPrice(ctx)
		if err != nil {
			return feeQuote{}, errors.Network("eth_gasPrice", err)
		}
		return feeQuote{gasPrice: price}, nil
	}

	tip, err := backend.SuggestGasTipCap(ctx)
	if err != nil {
		return feeQuote{}, errors.Network("eth_maxPriorityFeePerGas", err)
	}
	// 2x base fee survives several full blocks
	feeCap := new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), tip)
	return feeQuote{tipCap: tip, feeCap: feeCap}, nil
}

// waitForReceipt polls until the transaction is mined or the timeout passes.
func (i *Invoker) waitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, i.opts.Timeout)
	defer cancel()

	ticker := time.NewTicker(i.opts.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := i.session.Backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !stderrors.Is(err, ethereum.NotFound) {
			if ctx.Err() == nil {
				return nil, errors.Network("eth_getTransactionReceipt", err).
					WithDetails(map[string]any{"tx_hash": hash.Hex()})
			}
		}

		select {
		case <-ctx.Done():
			return nil, errors.Network("wait for receipt", ctx.Err()).
				WithDetails(map[string]any{"tx_hash": hash.Hex()})
		case <-ticker.C:
		}
	}
}

// replayReason re-executes msg at the block the transaction was mined in.
// An empty result means the node gave no reason.
func (i *Invoker) replayReason(ctx context.Context, msg ethereum.CallMsg, block *big.Int) string {
	msg.GasPrice, msg.GasFeeCap, msg.GasTipCap = nil, nil, nil
	_, err := i.session.Backend.CallContract(ctx, msg, block)
	reason, _ := revertReason(err)
	return reason
}

// record writes to the journal. Failures are logged; the transaction already happened.
func (i *Invoker) record(ctx context.Context, entry journal.Entry) {
	if err := i.opts.Journal.Save(ctx, entry); err != nil {
		i.logger.Warn("failed to record transaction",
			zap.String("tx_hash", entry.TxHash),
			zap.Error(err),
		)
	}
}
