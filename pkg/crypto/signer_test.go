package crypto

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	eth_crypto "github.com/ethereum/go-ethereum/crypto"
)

func TestGenerateKey(t *testing.T) {
	signer, err := GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	if signer.Address() == (common.Address{}) {
		t.Error("generated zero address")
	}
	if got := len(signer.PrivateKeyHex()); got != 64 {
		t.Errorf("private key hex length = %d, want 64", got)
	}
}

func TestFromPrivateKeyHex(t *testing.T) {
	signer1, _ := GenerateKey()
	privHex := signer1.PrivateKeyHex()

	for _, in := range []string{privHex, "0x" + privHex} {
		signer2, err := FromPrivateKeyHex(in)
		if err != nil {
			t.Fatalf("failed to load key %q: %v", in, err)
		}
		if signer2.Address() != signer1.Address() {
			t.Errorf("address = %s, want %s", signer2.Address().Hex(), signer1.Address().Hex())
		}
	}

	if _, err := FromPrivateKeyHex("not-hex"); err == nil {
		t.Error("expected error for invalid key")
	}
}

func TestSignAndRecover(t *testing.T) {
	signer, _ := GenerateKey()
	hash := eth_crypto.Keccak256([]byte("order digest"))

	sig, err := signer.Sign(hash)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("signature length = %d, want 65", len(sig))
	}
	if sig[64] != 27 && sig[64] != 28 {
		t.Errorf("v = %d, want 27 or 28", sig[64])
	}

	got, err := RecoverAddress(hash, sig)
	if err != nil {
		t.Fatalf("failed to recover: %v", err)
	}
	if got != signer.Address() {
		t.Errorf("recovered %s, want %s", got.Hex(), signer.Address().Hex())
	}

	// raw 0/1 recovery ids are accepted too
	raw := append([]byte(nil), sig...)
	raw[64] -= 27
	got, err = RecoverAddress(hash, raw)
	if err != nil || got != signer.Address() {
		t.Errorf("raw v: recovered %s, err %v", got.Hex(), err)
	}
	if sig[64] < 27 {
		t.Error("RecoverAddress must not modify its input")
	}
}

func TestSignRejectsBadHash(t *testing.T) {
	signer, _ := GenerateKey()
	if _, err := signer.Sign([]byte("short")); err == nil {
		t.Error("expected error for short hash")
	}
}

func TestRecoverInvalidSignature(t *testing.T) {
	hash := eth_crypto.Keccak256([]byte("x"))
	if _, err := RecoverAddress(hash, make([]byte, 64)); err == nil {
		t.Error("expected error for 64-byte signature")
	}
	if _, err := RecoverAddress(hash[:31], make([]byte, 65)); err == nil {
		t.Error("expected error for short hash")
	}
}

func TestGenerateSalt(t *testing.T) {
	a, err := GenerateSalt()
	if err != nil {
		t.Fatalf("failed to generate salt: %v", err)
	}
	b, _ := GenerateSalt()
	if a.Sign() == 0 || a.Cmp(b) == 0 {
		t.Errorf("salts %s and %s should be non-zero and distinct", a, b)
	}
	if a.BitLen() > 256 {
		t.Errorf("salt exceeds 256 bits: %d", a.BitLen())
	}
}
