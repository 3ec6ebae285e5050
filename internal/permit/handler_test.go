package permit

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ahwlsqja/buddyguard-ops/internal/chaintest"
	"github.com/ahwlsqja/buddyguard-ops/internal/common/metrics"
	"github.com/ahwlsqja/buddyguard-ops/pkg/eip712"
)

var verifyNow = time.Unix(1_706_000_000, 0)

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	verifier := eip712.NewEthVerifier(zap.NewNop()).WithClock(func() time.Time { return verifyNow })
	r := gin.New()
	NewHandler(NewService(verifier, metrics.New(), zap.NewNop())).RegisterRoutes(r.Group("/api/v1"))
	return r
}

func signedRequest(t *testing.T, deadline int64) VerifyRequest {
	t.Helper()
	key, err := crypto.HexToECDSA(chaintest.UserKey)
	require.NoError(t, err)

	domain := eip712.Domain{
		Name:              "USD Coin",
		Version:           "2",
		ChainID:           big.NewInt(11155111),
		VerifyingContract: common.HexToAddress("0x75faf114eafb1BDbe2F0316DF893fd58CE46AA4d"),
	}
	msg := eip712.PermitMessage{
		Owner:    crypto.PubkeyToAddress(key.PublicKey),
		Spender:  spender,
		Value:    big.NewInt(2_000_000),
		Nonce:    big.NewInt(0),
		Deadline: big.NewInt(deadline),
	}
	sig, err := eip712.SignPermit(key, domain, msg)
	require.NoError(t, err)

	return VerifyRequest{
		Domain: DomainDTO{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainID:           domain.ChainID.String(),
			VerifyingContract: domain.VerifyingContract.Hex(),
		},
		Message: MessageDTO{
			Owner:    msg.Owner.Hex(),
			Spender:  msg.Spender.Hex(),
			Value:    msg.Value.String(),
			Nonce:    msg.Nonce.String(),
			Deadline: msg.Deadline.String(),
		},
		Signature: sig.Hex(),
	}
}

func post(t *testing.T, r *gin.Engine, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/permits/verify", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return w, out
}

func TestVerifyPermit(t *testing.T) {
	r := newRouter()
	deadline := verifyNow.Add(time.Hour).Unix()

	t.Run("valid permit", func(t *testing.T) {
		w, out := post(t, r, signedRequest(t, deadline))
		require.Equal(t, http.StatusOK, w.Code)
		data := out["data"].(map[string]any)
		assert.Equal(t, true, data["valid"])
		assert.Equal(t, true, data["signature_valid"])
		assert.Equal(t, chaintest.AddressOf(chaintest.UserKey).Hex(), data["recovered"])
	})

	t.Run("tampered value", func(t *testing.T) {
		req := signedRequest(t, deadline)
		req.Message.Value = "2000001"
		w, out := post(t, r, req)
		require.Equal(t, http.StatusOK, w.Code)
		data := out["data"].(map[string]any)
		assert.Equal(t, false, data["valid"])
		assert.Equal(t, false, data["signature_valid"])
		assert.Equal(t, eip712.ErrAddressMismatch.Error(), data["reason"])
	})

	t.Run("expired", func(t *testing.T) {
		w, out := post(t, r, signedRequest(t, verifyNow.Unix()-1))
		require.Equal(t, http.StatusOK, w.Code)
		data := out["data"].(map[string]any)
		assert.Equal(t, false, data["valid"])
		assert.Equal(t, true, data["expired"])
		assert.Equal(t, true, data["signature_valid"])
	})

	t.Run("expired and tampered", func(t *testing.T) {
		req := signedRequest(t, verifyNow.Unix()-1)
		req.Message.Spender = chaintest.AddressOf(chaintest.GuardianKey).Hex()
		w, out := post(t, r, req)
		require.Equal(t, http.StatusOK, w.Code)
		data := out["data"].(map[string]any)
		assert.Equal(t, true, data["expired"])
		assert.Equal(t, false, data["signature_valid"])
	})

	t.Run("deadline equal to now is accepted", func(t *testing.T) {
		_, out := post(t, r, signedRequest(t, verifyNow.Unix()))
		assert.Equal(t, true, out["data"].(map[string]any)["valid"])
	})

	t.Run("malformed", func(t *testing.T) {
		req := signedRequest(t, deadline)
		req.Message.Nonce = "-1"
		w, out := post(t, r, req)
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "INVALID_INPUT", out["error"].(map[string]any)["code"])
	})

	t.Run("missing signature", func(t *testing.T) {
		req := signedRequest(t, deadline)
		req.Signature = ""
		w, _ := post(t, r, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
