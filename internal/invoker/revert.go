package invoker

import (
	stderrors "errors"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

const revertPrefix = "execution reverted"

// revertReason extracts the revert reason from a node error.
// ok is false when err does not describe an EVM revert.
func revertReason(err error) (reason string, ok bool) {
	if err == nil {
		return "", false
	}

	var dataErr rpc.DataError
	if stderrors.As(err, &dataErr) {
		if data, isStr := dataErr.ErrorData().(string); isStr {
			if raw, decodeErr := hexutil.Decode(data); decodeErr == nil {
				if len(raw) == 0 {
					return "", true
				}
				if unpacked, unpackErr := abi.UnpackRevert(raw); unpackErr == nil {
					return unpacked, true
				}
				// custom error; keep the selector so operators can look it up
				return "custom error " + hexutil.Encode(raw[:min(4, len(raw))]), true
			}
		}
	}

	msg := err.Error()
	idx := strings.Index(msg, revertPrefix)
	if idx < 0 {
		return "", false
	}
	reason = strings.TrimPrefix(msg[idx+len(revertPrefix):], ":")
	return strings.TrimSpace(reason), true
}

// Rejection texts the txpool returns as plain messages on some transports.
var poolRejections = []string{
	"insufficient funds",
	"nonce too low",
	"nonce too high",
	"replacement transaction underpriced",
	"transaction underpriced",
	"less than block base fee",
	"intrinsic gas too low",
	"exceeds block gas limit",
	"max priority fee per gas higher than max fee per gas",
	"already known",
}

// rejection reports whether err is the node refusing the request, as opposed
// to the request never reaching it. Refusals come back as JSON-RPC error
// objects; transport failures do not.
func rejection(err error) (reason string, ok bool) {
	if err == nil {
		return "", false
	}
	var rpcErr rpc.Error
	if stderrors.As(err, &rpcErr) {
		return rpcErr.Error(), true
	}
	msg := err.Error()
	for _, known := range poolRejections {
		if strings.Contains(msg, known) {
			return msg, true
		}
	}
	return "", false
}
