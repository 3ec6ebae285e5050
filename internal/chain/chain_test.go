package chain

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahwlsqja/buddyguard-ops/internal/common/errors"
	"github.com/ahwlsqja/buddyguard-ops/internal/config"
)

func TestNewSigner(t *testing.T) {
	const key = "289c2857d4598e37fb9647507e47a309d6133539bf21a8b9cb6df88fd5232032"
	want := common.HexToAddress("0x970E8128AB834E8EAC17Ab8E3812F010678CF791")

	t.Run("plain hex", func(t *testing.T) {
		s, err := NewSigner(key)
		require.NoError(t, err)
		assert.Equal(t, want, s.Address())
	})

	t.Run("0x prefix", func(t *testing.T) {
		s, err := NewSigner("0x" + key)
		require.NoError(t, err)
		assert.Equal(t, want, s.Address())
	})

	t.Run("invalid key", func(t *testing.T) {
		_, err := NewSigner("not-a-key")
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.CodeConfiguration))
		assert.NotContains(t, err.Error(), "not-a-key")
	})
}

func TestDial_RejectsUnknownScheme(t *testing.T) {
	_, err := Dial(context.Background(), config.ChainConfig{RPCURL: "ftp://node.example"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeConfiguration))
}
