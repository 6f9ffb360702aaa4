package crypto

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ErrSignatureMismatch is returned when a signature recovers to an address
// other than the claimed one.
var ErrSignatureMismatch = errors.New("crypto: signature does not match address")

// RecoverAddress returns the address that produced sigHex over digest.
// Both {0,1} and {27,28} recovery ids are accepted.
func RecoverAddress(digest []byte, sigHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: decode signature: %w", err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto: signature must be 65 bytes, got %d", len(sig))
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: recover public key: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// VerifyRequest checks that sigHex is address's signature over the request.
func VerifyRequest(address, method, path string, timestamp int64, body []byte, sigHex string) error {
	if !common.IsHexAddress(address) {
		return fmt.Errorf("crypto: invalid address %q", address)
	}
	got, err := RecoverAddress(RequestDigest(method, path, timestamp, body), sigHex)
	if err != nil {
		return err
	}
	if got != common.HexToAddress(address) {
		return ErrSignatureMismatch
	}
	return nil
}
