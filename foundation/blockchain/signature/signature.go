// Package signature provides the cryptographic operations the ledger depends
// on: double hashing, signing, verification and address derivation.
package signature

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// HashLength is the length in characters of a hex encoded Hash256 value.
const HashLength = 2 * sha256.Size

// ErrInvalidHash is returned when a value handed in as a hash does not
// decode into 32 bytes.
var ErrInvalidHash = errors.New("invalid hash")

// =============================================================================

// Hash256 returns the double SHA-256 digest of the data as lowercase hex.
func Hash256(data []byte) string {
	first := sha256.Sum256(data)
	second := sha256.Sum256(first[:])
	return hex.EncodeToString(second[:])
}

// Sign uses the specified private key to sign the hex encoded hash. The
// signature is returned in the 65 byte [R|S|V] format.
func Sign(hash string, privateKey *ecdsa.PrivateKey) ([]byte, error) {
	digest, err := decodeHash(hash)
	if err != nil {
		return nil, err
	}

	sig, err := crypto.Sign(digest, privateKey)
	if err != nil {
		return nil, err
	}

	// Check the public key recovered from the signature matches the key
	// that produced it.
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return nil, err
	}
	if !crypto.VerifySignature(crypto.FromECDSAPub(pub), digest, sig[:crypto.RecoveryIDOffset]) {
		return nil, errors.New("invalid signature")
	}

	return sig, nil
}

// Verify reports whether the signature over the hex encoded hash was
// produced by the private key belonging to the public key.
func Verify(hash string, sig []byte, publicKey []byte) bool {
	digest, err := decodeHash(hash)
	if err != nil {
		return false
	}

	// Accept both [R|S] and [R|S|V] encodings.
	switch len(sig) {
	case crypto.SignatureLength:
		sig = sig[:crypto.RecoveryIDOffset]
	case crypto.SignatureLength - 1:
	default:
		return false
	}

	if _, err := crypto.UnmarshalPubkey(publicKey); err != nil {
		return false
	}

	return crypto.VerifySignature(publicKey, digest, sig)
}

// DeriveAddress returns the checksummed account address for the
// uncompressed public key.
func DeriveAddress(publicKey []byte) (string, error) {
	pub, err := crypto.UnmarshalPubkey(publicKey)
	if err != nil {
		return "", fmt.Errorf("unmarshal public key: %w", err)
	}

	return crypto.PubkeyToAddress(*pub).String(), nil
}

// PublicKeyBytes returns the uncompressed 65 byte encoding of the key.
func PublicKeyBytes(pub *ecdsa.PublicKey) []byte {
	return crypto.FromECDSAPub(pub)
}

// =============================================================================

// decodeHash converts the hex encoded hash back into the 32 bytes that
// were signed.
func decodeHash(hash string) ([]byte, error) {
	if len(hash) != HashLength {
		return nil, ErrInvalidHash
	}

	digest, err := hex.DecodeString(hash)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidHash, err)
	}

	return digest, nil
}
