package chaintest

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// RevertError mimics the JSON-RPC error a node returns for a reverted call:
// code 3 with the ABI-encoded Error(string) as data.
type RevertError struct {
	Reason string
	data   []byte
}

func (e *RevertError) Error() string {
	if e.Reason == "" {
		return "execution reverted"
	}
	return "execution reverted: " + e.Reason
}

func (e *RevertError) ErrorCode() int { return 3 }

func (e *RevertError) ErrorData() interface{} { return hexutil.Encode(e.data) }

var (
	errorSelector = crypto.Keccak256([]byte("Error(string)"))[:4]
	stringArgs    = abi.Arguments{{Type: mustType("string")}}
)

// Revert builds the error for require(false, reason). An empty reason
// reverts without data, as an unknown selector does.
func Revert(reason string) error {
	if reason == "" {
		return &RevertError{}
	}
	packed, err := stringArgs.Pack(reason)
	if err != nil {
		panic(err)
	}
	return &RevertError{Reason: reason, data: append(append([]byte{}, errorSelector...), packed...)}
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}
