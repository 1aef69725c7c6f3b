package signer

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"

	"github.com/awnumar/memguard"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/caesar-terminal/swapdesk/internal/swap"
)

var (
	ErrDestroyed    = errors.New("signer destroyed")
	ErrBadSignature = errors.New("signature does not match an allowed signer")
)

// Typed-data hashes (keccak256 of the type strings).
var (
	domainTypeHash = crypto.Keccak256Hash([]byte("EIP712Domain(string name,string version)"))

	exchangeTypeHash = crypto.Keccak256Hash([]byte(
		"Exchange(string sendAsset,string receiveAsset,string sendAmount,string receiveAmount,string approxUsdSend,string approxUsdReceive,uint256 timestamp)",
	))

	domainSeparator = crypto.Keccak256Hash(
		domainTypeHash.Bytes(),
		crypto.Keccak256([]byte("SwapDesk")),
		crypto.Keccak256([]byte("1")),
	)
)

// Signer holds the desk key in an encrypted memguard enclave and signs
// exchange summaries with it. The key is opened only for the duration of a
// Sign call.
type Signer struct {
	mu      sync.RWMutex
	enclave *memguard.Enclave
	address common.Address
}

// New seals keyBytes into an enclave. keyBytes is wiped.
func New(keyBytes []byte) (*Signer, error) {
	privKey, err := crypto.ToECDSA(keyBytes)
	if err != nil {
		memguard.WipeBytes(keyBytes)
		return nil, fmt.Errorf("signer: invalid private key: %w", err)
	}
	return &Signer{
		enclave: memguard.NewEnclave(keyBytes),
		address: crypto.PubkeyToAddress(privKey.PublicKey),
	}, nil
}

// FromHex parses a hex private key, with or without 0x.
func FromHex(s string) (*Signer, error) {
	keyBytes, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("signer: decode key: %w", err)
	}
	return New(keyBytes)
}

// Address is the account the signer signs for.
func (s *Signer) Address() common.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.address
}

// Sign returns a 65-byte r || s || v signature over Digest(summary), with v
// in {27, 28}.
func (s *Signer) Sign(summary swap.ExchangeSummary) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.enclave == nil {
		return nil, ErrDestroyed
	}

	buf, err := s.enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("signer: open enclave: %w", err)
	}
	privKey, err := crypto.ToECDSA(buf.Bytes())
	buf.Destroy()
	if err != nil {
		return nil, fmt.Errorf("signer: parse private key: %w", err)
	}

	digest := Digest(summary)
	sig, err := crypto.Sign(digest[:], privKey)
	if err != nil {
		return nil, fmt.Errorf("signer: ecdsa sign: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

// Destroy drops the enclave. Later Sign calls fail with ErrDestroyed.
func (s *Signer) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enclave = nil
}

// Digest is the typed-data signing hash of a summary:
// keccak256("\x19\x01" || domainSeparator || structHash).
func Digest(summary swap.ExchangeSummary) common.Hash {
	ts := new(big.Int).SetInt64(summary.CreatedAt.UnixNano())
	structHash := crypto.Keccak256Hash(
		exchangeTypeHash.Bytes(),
		crypto.Keccak256([]byte(summary.SendAsset)),
		crypto.Keccak256([]byte(summary.ReceiveAsset)),
		crypto.Keccak256([]byte(formatAmount(summary.SendAmount))),
		crypto.Keccak256([]byte(formatAmount(summary.ReceiveAmount))),
		crypto.Keccak256([]byte(formatAmount(summary.ApproxUSDSendAmount))),
		crypto.Keccak256([]byte(formatAmount(summary.ApproxUSDReceiveAmount))),
		common.LeftPadBytes(ts.Bytes(), 32),
	)
	return crypto.Keccak256Hash([]byte{0x19, 0x01}, domainSeparator.Bytes(), structHash.Bytes())
}

// Recover returns the address that produced sig over summary.
func Recover(summary swap.ExchangeSummary, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: signature must be %d bytes, got %d", ErrBadSignature, crypto.SignatureLength, len(sig))
	}
	normalized := make([]byte, len(sig))
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}

	digest := Digest(summary)
	pub, err := crypto.SigToPub(digest[:], normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %w", ErrBadSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Verify checks that sig over summary was produced by one of allowed.
func Verify(summary swap.ExchangeSummary, sig []byte, allowed ...common.Address) error {
	addr, err := Recover(summary, sig)
	if err != nil {
		return err
	}
	for _, a := range allowed {
		if a == addr {
			return nil
		}
	}
	return fmt.Errorf("%w: recovered %s", ErrBadSignature, addr.Hex())
}

// formatAmount is the shortest decimal that round-trips the float.
func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
