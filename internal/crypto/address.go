package crypto

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// MarketAddress derives the custody account of a market from its id:
// the low 20 bytes of keccak256("market" || id).
func MarketAddress(marketID string) common.Address {
	return deriveAddress([]byte("market"), []byte(marketID))
}

// BetAddress derives the storage address of a bettor's stake record on a
// market: keccak256("bet" || bettor || marketAddress).
func BetAddress(bettor common.Address, marketID string) common.Address {
	return deriveAddress([]byte("bet"), bettor.Bytes(), MarketAddress(marketID).Bytes())
}

func deriveAddress(parts ...[]byte) common.Address {
	return common.BytesToAddress(ethcrypto.Keccak256(parts...)[12:])
}

// NormalizeAddress validates a hex address and returns its checksummed
// form so principals compare equal regardless of input casing.
func NormalizeAddress(s string) (string, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return "", fmt.Errorf("crypto: invalid address %q", s)
	}
	return common.HexToAddress(s).Hex(), nil
}
