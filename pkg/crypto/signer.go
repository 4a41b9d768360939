package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer holds a secp256k1 key used to sign orders and cancellations.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

func newSigner(key *ecdsa.PrivateKey) *Signer {
	return &Signer{privateKey: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

// GenerateKey creates a new random key.
func GenerateKey() (*Signer, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return newSigner(key), nil
}

// FromPrivateKeyHex loads a key from 64 hex chars, with or without 0x.
func FromPrivateKeyHex(hexKey string) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return newSigner(key), nil
}

func (s *Signer) Address() common.Address { return s.address }

// PrivateKeyHex returns the private key without 0x prefix.
func (s *Signer) PrivateKeyHex() string {
	return fmt.Sprintf("%x", crypto.FromECDSA(s.privateKey))
}

// Sign signs a 32-byte digest. The signature is [R || S || V] with V in
// {27, 28} as wallets produce it.
func (s *Signer) Sign(hash []byte) ([]byte, error) {
	if len(hash) != 32 {
		return nil, fmt.Errorf("hash must be 32 bytes, got %d", len(hash))
	}
	sig, err := crypto.Sign(hash, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

// RecoverAddress returns the address that produced signature over hash.
// V may be 0/1 or 27/28.
func RecoverAddress(hash []byte, signature []byte) (common.Address, error) {
	if len(signature) != 65 {
		return common.Address{}, fmt.Errorf("invalid signature length: %d", len(signature))
	}
	if len(hash) != 32 {
		return common.Address{}, fmt.Errorf("invalid hash length: %d", len(hash))
	}
	sig := make([]byte, 65)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// GenerateSalt returns a random non-zero 256-bit order salt.
func GenerateSalt() (*big.Int, error) {
	buf := make([]byte, 32)
	for {
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("failed to generate salt: %w", err)
		}
		if salt := new(big.Int).SetBytes(buf); salt.Sign() != 0 {
			return salt, nil
		}
	}
}
