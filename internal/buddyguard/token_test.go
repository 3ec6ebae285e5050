package buddyguard

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahwlsqja/buddyguard-ops/internal/common/errors"
	"github.com/ahwlsqja/buddyguard-ops/internal/contracts"
	"github.com/ahwlsqja/buddyguard-ops/pkg/eip712"
)

func TestResolveAmount(t *testing.T) {
	e := newEnv(t, contracts.BuddyGuardV1, nil)
	ctx := context.Background()
	eighteen := uint8(18)

	tests := []struct {
		name   string
		amount Amount
		want   *big.Int
	}{
		{"token decimals", Amount{Value: "10"}, big.NewInt(10_000_000)},
		{"fraction", Amount{Value: "2.5"}, big.NewInt(2_500_000)},
		{"decimals override", Amount{Value: "1", Decimals: &eighteen}, big.NewInt(1_000_000_000_000_000_000)},
		{"raw", Amount{Value: "2000000", Raw: true}, big.NewInt(2_000_000)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveAmount(ctx, e.user.invoker, e.token.Address(), tt.amount)
			require.NoError(t, err)
			assert.Equal(t, tt.want.String(), got.String())
		})
	}

	t.Run("too precise", func(t *testing.T) {
		_, err := ResolveAmount(ctx, e.user.invoker, e.token.Address(), Amount{Value: "0.0000001"})
		assert.True(t, errors.IsCode(err, errors.CodeInvalidInput))
	})

	t.Run("not a number", func(t *testing.T) {
		_, err := ResolveAmount(ctx, e.user.invoker, e.token.Address(), Amount{Value: "ten", Raw: true})
		assert.True(t, errors.IsCode(err, errors.CodeInvalidInput))
	})

	t.Run("no decimals on escrow", func(t *testing.T) {
		_, err := ResolveAmount(ctx, e.user.invoker, e.escrow.Address(), Amount{Value: "1"})
		assert.True(t, errors.IsCode(err, errors.CodeContractInterface))
	})
}

func TestSignPermit_SendsNothing(t *testing.T) {
	e := newEnv(t, contracts.BuddyGuardV1, nil)

	auth, err := SignPermit(context.Background(), e.user.client.authorizer, e.token.Address(), e.escrow.Address(), big.NewInt(2_000_000), time.Hour)
	require.NoError(t, err)
	assert.Zero(t, e.chain.Receipts())

	require.NoError(t, eip712.VerifyAt(auth.Domain, auth.Message(), auth.Signature, time.Now()))
	assert.Equal(t, e.user.address, auth.Owner)
}
