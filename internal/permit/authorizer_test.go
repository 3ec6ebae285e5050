package permit

import (
	"context"
	stderrors "errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ahwlsqja/buddyguard-ops/internal/chain"
	"github.com/ahwlsqja/buddyguard-ops/internal/chaintest"
	"github.com/ahwlsqja/buddyguard-ops/internal/common/errors"
	"github.com/ahwlsqja/buddyguard-ops/internal/contracts"
	"github.com/ahwlsqja/buddyguard-ops/internal/invoker"
	"github.com/ahwlsqja/buddyguard-ops/pkg/eip712"
	"github.com/ahwlsqja/buddyguard-ops/pkg/nonce"
)

var spender = common.HexToAddress("0x42f034CD03E06087870cF0D662EA6dB389E3364f")

func setup(t *testing.T, cfg chaintest.TokenConfig, opts Options) (*chaintest.Chain, *chaintest.Token, *invoker.Invoker, *Authorizer) {
	t.Helper()
	c := chaintest.New(11155111)
	tok := chaintest.DeployToken(c, cfg)

	signer, err := chain.NewSigner(chaintest.UserKey)
	require.NoError(t, err)
	session, err := chain.NewSession(context.Background(), c, signer)
	require.NoError(t, err)

	inv := invoker.New(session, zap.NewNop(), invoker.Options{PollInterval: time.Millisecond, Timeout: time.Second})
	return c, tok, inv, NewAuthorizer(inv, zap.NewNop(), opts)
}

func usdc() chaintest.TokenConfig {
	return chaintest.TokenConfig{Name: "USD Coin", Version: "2", Decimals: 6}
}

func TestAuthorize_SignsAgainstLiveDomain(t *testing.T) {
	_, tok, inv, a := setup(t, usdc(), Options{})
	deadline := big.NewInt(time.Now().Add(time.Hour).Unix())

	auth, err := a.Authorize(context.Background(), Request{
		Token:    tok.Address(),
		Spender:  spender,
		Value:    big.NewInt(2_000_000),
		Deadline: deadline,
	})
	require.NoError(t, err)

	assert.Equal(t, inv.Session().From(), auth.Owner)
	assert.Equal(t, "0", auth.Nonce.String())
	assert.Equal(t, deadline.String(), auth.Deadline.String())
	assert.Equal(t, tok.Domain(), auth.Domain)
	assert.Contains(t, []uint8{27, 28}, auth.V)

	recovered, err := eip712.RecoverSigner(tok.Domain(), auth.Message(), auth.Signature)
	require.NoError(t, err)
	assert.Equal(t, auth.Owner, recovered)
	assert.NoError(t, eip712.VerifyAt(auth.Domain, auth.Message(), auth.Signature, time.Now()))
}

func TestAuthorize_VersionFallback(t *testing.T) {
	t.Run("default version", func(t *testing.T) {
		_, tok, _, a := setup(t, chaintest.TokenConfig{Name: "Legacy", Decimals: 18}, Options{})
		domain, err := a.Domain(context.Background(), tok.Address())
		require.NoError(t, err)
		assert.Equal(t, "1", domain.Version)
	})

	t.Run("configured default", func(t *testing.T) {
		_, tok, _, a := setup(t, chaintest.TokenConfig{Name: "Legacy", Decimals: 18, NoDomainSeparator: true}, Options{DefaultVersion: "2"})
		domain, err := a.Domain(context.Background(), tok.Address())
		require.NoError(t, err)
		assert.Equal(t, "2", domain.Version)
	})
}

func TestAuthorize_DomainSeparatorMismatch(t *testing.T) {
	_, tok, _, a := setup(t, usdc(), Options{})
	tok.OverrideDomainSeparator(common.HexToHash("0x01"))

	_, err := a.Authorize(context.Background(), Request{
		Token:    tok.Address(),
		Spender:  spender,
		Value:    big.NewInt(1),
		Deadline: big.NewInt(time.Now().Add(time.Hour).Unix()),
	})
	require.Error(t, err)
	appErr, ok := errors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, errors.CodeContractInterface, appErr.Code)
	assert.Equal(t, contracts.MethodDomainSeparator, appErr.Details["method"])
}

func TestAuthorize_TokenWithoutPermit(t *testing.T) {
	_, _, _, a := setup(t, usdc(), Options{})

	_, err := a.Authorize(context.Background(), Request{
		Token:    common.HexToAddress("0x00000000000000000000000000000000000c0FFE"),
		Spender:  spender,
		Value:    big.NewInt(1),
		Deadline: big.NewInt(time.Now().Add(time.Hour).Unix()),
	})
	assert.True(t, errors.IsCode(err, errors.CodeContractInterface))
}

func TestAuthorize_InvalidInput(t *testing.T) {
	_, tok, _, a := setup(t, usdc(), Options{})
	future := big.NewInt(time.Now().Add(time.Hour).Unix())
	tooBig := new(big.Int).Lsh(big.NewInt(1), 256)

	tests := []struct {
		name string
		req  Request
	}{
		{"zero value", Request{Token: tok.Address(), Spender: spender, Value: big.NewInt(0), Deadline: future}},
		{"nil value", Request{Token: tok.Address(), Spender: spender, Deadline: future}},
		{"value above uint256", Request{Token: tok.Address(), Spender: spender, Value: tooBig, Deadline: future}},
		{"deadline now", Request{Token: tok.Address(), Spender: spender, Value: big.NewInt(1), Deadline: big.NewInt(time.Now().Unix())}},
		{"deadline in the past", Request{Token: tok.Address(), Spender: spender, Value: big.NewInt(1), Deadline: big.NewInt(1)}},
		{"zero spender", Request{Token: tok.Address(), Value: big.NewInt(1), Deadline: future}},
		{"zero token", Request{Spender: spender, Value: big.NewInt(1), Deadline: future}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Authorize(context.Background(), tt.req)
			assert.True(t, errors.IsCode(err, errors.CodeInvalidInput), "got %v", err)
		})
	}
}

func TestAuthorize_NetworkFailure(t *testing.T) {
	c, tok, _, a := setup(t, usdc(), Options{})
	c.FailWith(stderrors.New("connection reset by peer"))

	_, err := a.Authorize(context.Background(), Request{
		Token:    tok.Address(),
		Spender:  spender,
		Value:    big.NewInt(1),
		Deadline: big.NewInt(time.Now().Add(time.Hour).Unix()),
	})
	assert.True(t, errors.IsCode(err, errors.CodeNetwork))
}

func TestAuthorize_Reservations(t *testing.T) {
	store := nonce.NewMemoryStore(time.Minute)
	_, tok, _, a := setup(t, usdc(), Options{Reservations: store})
	ctx := context.Background()
	req := Request{
		Token:    tok.Address(),
		Spender:  spender,
		Value:    big.NewInt(1),
		Deadline: big.NewInt(time.Now().Add(time.Hour).Unix()),
	}

	first, err := a.Authorize(ctx, req)
	require.NoError(t, err)

	_, err = a.Authorize(ctx, req)
	assert.True(t, errors.IsCode(err, errors.CodeConflict))

	a.Release(ctx, first)
	second, err := a.Authorize(ctx, req)
	require.NoError(t, err)

	a.Consume(ctx, second)
	_, err = a.Authorize(ctx, req)
	assert.True(t, errors.IsCode(err, errors.CodeConflict))
}

// permitCall submits the permit to the token directly, the way a consuming
// contract would.
func permitCall(auth *Authorization) invoker.Call {
	return invoker.Call{
		Action:   "permit",
		Contract: auth.Token,
		ABI:      contracts.ERC20Permit,
		Method:   contracts.MethodPermit,
		Args:     []any{auth.Owner, auth.Spender, auth.Value, auth.Deadline, auth.V, auth.R, auth.S},
	}
}

func TestAuthorization_ConsumedOnChain(t *testing.T) {
	ctx := context.Background()

	t.Run("accepted once, stale nonce afterwards", func(t *testing.T) {
		_, tok, inv, a := setup(t, usdc(), Options{})
		auth, err := a.Authorize(ctx, Request{
			Token:    tok.Address(),
			Spender:  spender,
			Value:    big.NewInt(2_000_000),
			Deadline: big.NewInt(time.Now().Add(time.Hour).Unix()),
		})
		require.NoError(t, err)

		_, err = inv.Invoke(ctx, permitCall(auth))
		require.NoError(t, err)
		assert.Equal(t, "2000000", tok.Allowance(auth.Owner, spender).String())

		_, err = inv.Invoke(ctx, permitCall(auth))
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.CodeOnChainRevert))
		assert.ErrorContains(t, err, "ERC20Permit: invalid signature")
	})

	t.Run("rejected after the deadline", func(t *testing.T) {
		c, tok, inv, a := setup(t, usdc(), Options{})
		deadline := time.Now().Add(time.Hour)
		auth, err := a.Authorize(ctx, Request{
			Token:    tok.Address(),
			Spender:  spender,
			Value:    big.NewInt(2_000_000),
			Deadline: big.NewInt(deadline.Unix()),
		})
		require.NoError(t, err)

		c.SetNextBlockTime(deadline.Add(time.Second))
		_, err = inv.Invoke(ctx, permitCall(auth))
		require.Error(t, err)
		assert.ErrorContains(t, err, "ERC20Permit: expired deadline")
	})

	t.Run("tampered value", func(t *testing.T) {
		_, tok, inv, a := setup(t, usdc(), Options{})
		auth, err := a.Authorize(ctx, Request{
			Token:    tok.Address(),
			Spender:  spender,
			Value:    big.NewInt(2_000_000),
			Deadline: big.NewInt(time.Now().Add(time.Hour).Unix()),
		})
		require.NoError(t, err)

		auth.Value = big.NewInt(2_000_001)
		_, err = inv.Invoke(ctx, permitCall(auth))
		assert.ErrorContains(t, err, "ERC20Permit: invalid signature")
	})
}
