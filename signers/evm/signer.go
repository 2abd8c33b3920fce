// Package evm provides the EIP-191 personal-message signer used for all IVXP
// client/provider messages.
package evm

import (
	"crypto/ecdsa"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	ivxp "github.com/ivxp/ivxp-go"
)

// Signer implements ivxp.CryptoService over a secp256k1 private key.
// Signing is deterministic for the same (key, message) pair.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a signer from a 0x-prefixed 64-hex-char private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	if !ivxp.IsValidPrivateKey(privateKeyHex) {
		return nil, ivxp.NewError(ivxp.ErrCodeInvalidPrivateKey,
			"private key must be 0x followed by 64 hex characters")
	}
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, ivxp.WrapError(ivxp.ErrCodeInvalidPrivateKey, "failed to parse private key", err)
	}
	return &Signer{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}, nil
}

// Address returns the checksummed address derived from the held key.
func (s *Signer) Address() string {
	return s.address.Hex()
}

// Sign produces an EIP-191 personal_sign signature over message: the
// "\x19Ethereum Signed Message:\n" prefix plus length plus message is
// keccak-256 hashed and signed with secp256k1. Returns 0x-prefixed hex with
// the recovery byte adjusted to 27/28.
func (s *Signer) Sign(message string) (string, error) {
	if message == "" {
		return "", ivxp.NewError(ivxp.ErrCodeInvalidMessage, "message must not be empty")
	}
	digest := accounts.TextHash([]byte(message))
	sig, err := crypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", ivxp.WrapError(ivxp.ErrCodeInvalidMessage, "signing failed", err)
	}
	sig[64] += 27
	return hexutil.Encode(sig), nil
}

// Verify recovers the signer of message and compares it against
// expectedAddress, case-insensitively.
func (s *Signer) Verify(message, signature, expectedAddress string) (bool, error) {
	return VerifySignature(message, signature, expectedAddress)
}

// VerifySignature is the standalone form of Verify; the provider uses it to
// check client signatures without holding the client's key.
func VerifySignature(message, signature, expectedAddress string) (bool, error) {
	if message == "" {
		return false, ivxp.NewError(ivxp.ErrCodeInvalidMessage, "message must not be empty")
	}
	if !ivxp.IsValidAddress(expectedAddress) {
		return false, ivxp.NewError(ivxp.ErrCodeInvalidAddress, "expected address is not a 20-byte hex address")
	}
	sig, err := hexutil.Decode(signature)
	if err != nil || len(sig) != 65 {
		return false, ivxp.NewError(ivxp.ErrCodeInvalidSignature, "signature must be 65 bytes of 0x-prefixed hex")
	}

	// Accept both raw recovery ids and the 27/28 convention.
	recovery := make([]byte, 65)
	copy(recovery, sig)
	if recovery[64] >= 27 {
		recovery[64] -= 27
	}
	if recovery[64] > 1 {
		return false, ivxp.NewError(ivxp.ErrCodeInvalidSignature, "invalid recovery id")
	}

	digest := accounts.TextHash([]byte(message))
	pubKey, err := crypto.SigToPub(digest, recovery)
	if err != nil {
		return false, nil
	}
	recovered := crypto.PubkeyToAddress(*pubKey)
	return strings.EqualFold(recovered.Hex(), expectedAddress), nil
}
