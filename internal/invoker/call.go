package invoker

import (
	"context"
	stderrors "errors"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/ahwlsqja/buddyguard-ops/internal/common/errors"
)

// Call runs a view function and returns its unpacked outputs.
//
// A revert without data, an empty result, or output that does not match the
// ABI means the contract does not expose method, reported as a
// ContractInterface error. A revert with a reason is an OnChainRevert.
func (i *Invoker) Call(ctx context.Context, contract common.Address, contractABI abi.ABI, method string, args ...any) ([]any, error) {
	m, ok := contractABI.Methods[method]
	if !ok {
		return nil, errors.ContractInterface(contract.Hex(), method, stderrors.New("method not in ABI"))
	}
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, errors.ContractInterface(contract.Hex(), method, err)
	}

	out, err := i.session.Backend.CallContract(ctx, ethereum.CallMsg{
		From: i.session.From(),
		To:   &contract,
		Data: data,
	}, nil)
	if err != nil {
		if reason, isRevert := revertReason(err); isRevert {
			if reason == "" {
				return nil, errors.ContractInterface(contract.Hex(), method, err)
			}
			return nil, errors.OnChainRevert(method, reason, "").WithError(err)
		}
		return nil, errors.Network("eth_call", err)
	}

	if len(out) == 0 && len(m.Outputs) > 0 {
		cause := stderrors.New("empty result")
		code, codeErr := i.session.Backend.CodeAt(ctx, contract, nil)
		if codeErr == nil && len(code) == 0 {
			cause = stderrors.New("no contract code at address")
		}
		return nil, errors.ContractInterface(contract.Hex(), method, cause)
	}

	values, err := contractABI.Unpack(method, out)
	if err != nil {
		return nil, errors.ContractInterface(contract.Hex(), method, err)
	}
	return values, nil
}
