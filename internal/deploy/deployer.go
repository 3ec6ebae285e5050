package deploy

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/ahwlsqja/buddyguard-ops/internal/common/errors"
	"github.com/ahwlsqja/buddyguard-ops/internal/invoker"
)

// DefaultCompletionTimeout is the escrow's completion window in seconds (48h).
const DefaultCompletionTimeout = 172800

// Deployment targets.
const (
	TargetBuddyGuard = "buddyguard"
	TargetSource     = "source"
	TargetCcip       = "ccip"
)

// Params carries every constructor input a target may need.
type Params struct {
	Token             common.Address
	CompletionTimeout *big.Int
	Router            common.Address
	Link              common.Address
}

type target struct {
	contract string
	args     func(p Params) ([]any, map[string]string, error)
}

var targets = map[string]target{
	TargetBuddyGuard: {
		contract: "buddyGuard",
		args: func(p Params) ([]any, map[string]string, error) {
			if p.Token == (common.Address{}) {
				return nil, nil, errors.InvalidInput("token address is required")
			}
			timeout := p.CompletionTimeout
			if timeout == nil {
				timeout = big.NewInt(DefaultCompletionTimeout)
			}
			if timeout.Sign() <= 0 {
				return nil, nil, errors.InvalidInput("completion timeout must be positive")
			}
			return []any{p.Token, timeout}, map[string]string{
				"token":             p.Token.Hex(),
				"completionTimeout": timeout.String(),
			}, nil
		},
	},
	TargetSource: {
		contract: "SourceContract",
		args: func(p Params) ([]any, map[string]string, error) {
			if p.Router == (common.Address{}) || p.Link == (common.Address{}) {
				return nil, nil, errors.InvalidInput("router and link token addresses are required")
			}
			return []any{p.Router, p.Link}, map[string]string{
				"router": p.Router.Hex(),
				"link":   p.Link.Hex(),
			}, nil
		},
	},
	TargetCcip: {
		contract: "buddyGuardCcip",
		args: func(p Params) ([]any, map[string]string, error) {
			if p.Router == (common.Address{}) {
				return nil, nil, errors.InvalidInput("router address is required")
			}
			return []any{p.Router}, map[string]string{"router": p.Router.Hex()}, nil
		},
	},
}

// Targets lists the known deployment targets.
func Targets() []string {
	out := make([]string, 0, len(targets))
	for name := range targets {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Deployer deploys artifacts through an invoker and records the result.
type Deployer struct {
	invoker *invoker.Invoker
	records *RecordFile
	logger  *zap.Logger
}

// NewDeployer returns a deployer. records may be nil to skip the record file.
func NewDeployer(inv *invoker.Invoker, records *RecordFile, logger *zap.Logger) *Deployer {
	return &Deployer{invoker: inv, records: records, logger: logger}
}

// Deploy creates the contract for targetName from artifact.
func (d *Deployer) Deploy(ctx context.Context, targetName string, artifact *Artifact, p Params) (*Record, error) {
	t, ok := targets[targetName]
	if !ok {
		return nil, errors.InvalidInput(fmt.Sprintf("unknown deploy target %q (want one of %v)", targetName, Targets()))
	}
	args, shown, err := t.args(p)
	if err != nil {
		return nil, err
	}
	if want := len(artifact.ABI.Constructor.Inputs); want != len(args) {
		return nil, errors.ContractInterface(artifact.ContractName, "constructor",
			fmt.Errorf("artifact constructor takes %d arguments, %s needs %d", want, targetName, len(args)))
	}

	contract := artifact.ContractName
	if contract == "" {
		contract = t.contract
	}
	d.logger.Info("deploying contract",
		zap.String("target", targetName),
		zap.String("contract", contract),
		zap.Any("args", shown),
	)

	receipt, err := d.invoker.Deploy(ctx, invoker.Deployment{
		Action:   "deploy-" + targetName,
		ABI:      artifact.ABI,
		Bytecode: artifact.Bytecode,
		Args:     args,
	})
	if err != nil {
		return nil, err
	}

	session := d.invoker.Session()
	rec := Record{
		Target:     targetName,
		Contract:   contract,
		Address:    receipt.ContractAddress.Hex(),
		TxHash:     receipt.TxHash.Hex(),
		Block:      receipt.BlockNumber.Uint64(),
		GasUsed:    receipt.GasUsed,
		Deployer:   session.From().Hex(),
		ChainID:    session.ChainID.String(),
		Args:       shown,
		DeployedAt: time.Now().UTC(),
	}

	d.logger.Info("contract deployed",
		zap.String("contract", contract),
		zap.String("address", rec.Address),
		zap.Uint64("gas_used", rec.GasUsed),
	)

	if d.records != nil {
		if err := d.records.Append(rec); err != nil {
			// the contract exists either way
			d.logger.Warn("failed to write deployment record",
				zap.String("path", d.records.Path()),
				zap.String("address", rec.Address),
				zap.Error(err),
			)
		}
	}
	return &rec, nil
}
