package chain

import (
	"context"
	"crypto/tls"
	"math/big"
	"net/http"
	"net/url"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/gorilla/websocket"

	"github.com/ahwlsqja/buddyguard-ops/internal/common/errors"
	"github.com/ahwlsqja/buddyguard-ops/internal/config"
)

// Backend is the subset of the node API buddyguard needs.
// *ethclient.Client satisfies it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

var _ Backend = (*ethclient.Client)(nil)

// Dial connects to the node at cfg.RPCURL, choosing the transport by URL scheme.
func Dial(ctx context.Context, cfg config.ChainConfig) (*ethclient.Client, error) {
	parsed, err := url.Parse(cfg.RPCURL)
	if err != nil {
		return nil, errors.Configuration("CHAIN_RPC_URL is not a valid URL").WithError(err)
	}

	var rpcClient *rpc.Client
	switch parsed.Scheme {
	case "http", "https":
		httpClient := &http.Client{}
		if cfg.InsecureTLS {
			httpClient.Transport = &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
		}
		rpcClient, err = rpc.DialOptions(ctx, cfg.RPCURL, rpc.WithHTTPClient(httpClient))
	case "ws", "wss":
		dialer := *websocket.DefaultDialer
		if cfg.InsecureTLS {
			dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		rpcClient, err = rpc.DialWebsocketWithDialer(ctx, cfg.RPCURL, "", dialer)
	case "":
		// bare path means an IPC socket
		rpcClient, err = rpc.DialContext(ctx, cfg.RPCURL)
	default:
		return nil, errors.Configuration("unsupported CHAIN_RPC_URL scheme " + parsed.Scheme)
	}
	if err != nil {
		return nil, errors.Network("dial", err)
	}

	return ethclient.NewClient(rpcClient), nil
}
