package signer

import (
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/caesar-terminal/swapdesk/internal/swap"
)

func testSummary() swap.ExchangeSummary {
	return swap.ExchangeSummary{
		SendAmount:             1,
		ReceiveAmount:          16.666666666666668,
		ApproxUSDSendAmount:    50000,
		ApproxUSDReceiveAmount: 50000,
		SendAsset:              "BTC",
		ReceiveAsset:           "ETH",
		CreatedAt:              time.Date(2023, 8, 29, 7, 10, 40, 0, time.UTC),
	}
}

func newTestSigner(t *testing.T) (*Signer, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	s, err := New(crypto.FromECDSA(key))
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	t.Cleanup(s.Destroy)
	return s, crypto.PubkeyToAddress(key.PublicKey)
}

func TestSigner_SignAndVerify(t *testing.T) {
	s, addr := newTestSigner(t)
	if s.Address() != addr {
		t.Fatalf("address: want %s, got %s", addr.Hex(), s.Address().Hex())
	}

	sig, err := s.Sign(testSummary())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("expected 65-byte signature, got %d", len(sig))
	}
	if sig[64] != 27 && sig[64] != 28 {
		t.Fatalf("expected v in {27,28}, got %d", sig[64])
	}

	if err := Verify(testSummary(), sig, addr); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerify_TamperedSummary(t *testing.T) {
	s, addr := newTestSigner(t)
	sig, _ := s.Sign(testSummary())

	tampered := testSummary()
	tampered.ReceiveAmount = 17
	if err := Verify(tampered, sig, addr); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
}

func TestVerify_UnknownSigner(t *testing.T) {
	s, _ := newTestSigner(t)
	_, other := newTestSigner(t)
	sig, _ := s.Sign(testSummary())

	if err := Verify(testSummary(), sig, other); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
}

func TestVerify_MalformedSignature(t *testing.T) {
	if err := Verify(testSummary(), []byte{1, 2, 3}); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
}

func TestDigest_Deterministic(t *testing.T) {
	a, b := testSummary(), testSummary()
	if Digest(a) != Digest(b) {
		t.Fatal("digest must be deterministic")
	}
	b.CreatedAt = b.CreatedAt.Add(time.Nanosecond)
	if Digest(a) == Digest(b) {
		t.Fatal("digest must cover the timestamp")
	}
	b = testSummary()
	b.SendAsset, b.ReceiveAsset = b.ReceiveAsset, b.SendAsset
	if Digest(a) == Digest(b) {
		t.Fatal("digest must distinguish the swap direction")
	}
}

func TestSigner_Destroy(t *testing.T) {
	s, _ := newTestSigner(t)
	s.Destroy()
	if _, err := s.Sign(testSummary()); !errors.Is(err, ErrDestroyed) {
		t.Fatalf("expected ErrDestroyed, got %v", err)
	}
}

func TestFromHex(t *testing.T) {
	key, _ := crypto.GenerateKey()
	want := crypto.PubkeyToAddress(key.PublicKey)

	s, err := FromHex("0x" + hex.EncodeToString(crypto.FromECDSA(key)))
	if err != nil {
		t.Fatalf("FromHex: %v", err)
	}
	defer s.Destroy()
	if s.Address() != want {
		t.Fatalf("address mismatch")
	}

	if _, err := FromHex("zz"); err == nil {
		t.Fatal("expected decode error")
	}
	if _, err := FromHex("00"); err == nil {
		t.Fatal("expected invalid key error")
	}
}
