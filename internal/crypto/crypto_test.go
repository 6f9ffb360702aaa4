package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known throwaway key (hardhat account #0).
const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestSignerAddress(t *testing.T) {
	s, err := NewSigner("0x" + testKey)
	require.NoError(t, err)
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", s.Address().Hex())

	_, err = NewSigner("zz")
	assert.Error(t, err)
}

func TestSignAndVerifyRequest(t *testing.T) {
	s, err := NewSigner(testKey)
	require.NoError(t, err)

	body := []byte(`{"outcome":0,"amount":"0.1"}`)
	sig, err := s.SignRequest("post", "/api/markets/m1/bets", 1_700_000_000, body)
	require.NoError(t, err)

	addr := s.Address().Hex()
	require.NoError(t, VerifyRequest(addr, "POST", "/api/markets/m1/bets", 1_700_000_000, body, sig))

	// Any change to the signed fields breaks verification.
	assert.ErrorIs(t, VerifyRequest(addr, "POST", "/api/markets/m2/bets", 1_700_000_000, body, sig), ErrSignatureMismatch)
	assert.ErrorIs(t, VerifyRequest(addr, "POST", "/api/markets/m1/bets", 1_700_000_001, body, sig), ErrSignatureMismatch)
	assert.ErrorIs(t, VerifyRequest(addr, "POST", "/api/markets/m1/bets", 1_700_000_000, []byte(`{}`), sig), ErrSignatureMismatch)

	other := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8").Hex()
	assert.ErrorIs(t, VerifyRequest(other, "POST", "/api/markets/m1/bets", 1_700_000_000, body, sig), ErrSignatureMismatch)

	assert.Error(t, VerifyRequest(addr, "POST", "/", 1, nil, "0x1234"))
	assert.Error(t, VerifyRequest("nope", "POST", "/", 1, nil, sig))
}

func TestDerivedAddresses(t *testing.T) {
	a := MarketAddress("btc-hilo-1")
	assert.Equal(t, a, MarketAddress("btc-hilo-1"))
	assert.NotEqual(t, a, MarketAddress("btc-hilo-2"))

	bettor := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	b := BetAddress(bettor, "btc-hilo-1")
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, b, BetAddress(bettor, "btc-hilo-2"))
}

func TestNormalizeAddress(t *testing.T) {
	got, err := NormalizeAddress(" 0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266 ")
	require.NoError(t, err)
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", got)

	_, err = NormalizeAddress("0x123")
	assert.Error(t, err)
}

func TestEncryptedKeyRoundTrip(t *testing.T) {
	blob, err := EncryptKey(testKey, "hunter2")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "authority.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	s, err := LoadSigner(KeyConfig{EncryptedKeyPath: path, KeyPassword: "hunter2"})
	require.NoError(t, err)
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", s.Address().Hex())

	_, err = LoadSigner(KeyConfig{EncryptedKeyPath: path, KeyPassword: "wrong"})
	assert.Error(t, err)

	_, err = EncryptKey(testKey, "")
	assert.Error(t, err)

	_, err = LoadSigner(KeyConfig{})
	assert.Error(t, err)
	assert.False(t, KeyConfig{}.Configured())
}
