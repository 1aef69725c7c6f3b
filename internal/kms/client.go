// Package kms unwraps the desk's signing key from an AWS KMS ciphertext.
package kms

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/awnumar/memguard"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// KeySize is the length of a secp256k1 private key.
const KeySize = 32

var (
	ErrEmptyCiphertext = errors.New("kms: empty ciphertext")
	ErrKeySize         = errors.New("kms: plaintext is not a signing key")
)

// API is the subset of the KMS SDK client used here.
type API interface {
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// Options selects the KMS endpoint.
type Options struct {
	Region string
	// Endpoint, when set, points at LocalStack and switches to static
	// test credentials.
	Endpoint string
	// Context is the encryption context the key was wrapped with.
	Context map[string]string
}

// Client decrypts wrapped signing keys.
type Client struct {
	api     API
	context map[string]string
}

// New loads the AWS configuration and creates a Client.
func New(ctx context.Context, opts Options) (*Client, error) {
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	var kmsOpts []func(*kms.Options)
	if opts.Endpoint != "" {
		loadOpts = append(loadOpts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "test")))
		kmsOpts = append(kmsOpts, func(o *kms.Options) { o.BaseEndpoint = aws.String(opts.Endpoint) })
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("kms: load aws config for %s: %w", opts.Region, err)
	}
	c := NewWithAPI(kms.NewFromConfig(cfg, kmsOpts...))
	c.context = opts.Context
	return c, nil
}

// NewWithAPI wraps an existing KMS API implementation.
func NewWithAPI(api API) *Client {
	return &Client{api: api}
}

// Decrypt returns the plaintext of ciphertext. The caller owns the bytes.
func (c *Client) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, ErrEmptyCiphertext
	}
	out, err := c.api.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob:    ciphertext,
		EncryptionContext: c.context,
	})
	if err != nil {
		return nil, fmt.Errorf("kms: decrypt: %w", err)
	}
	return out.Plaintext, nil
}

// DecryptSigningKey decodes a base64 ciphertext, as stored in
// configuration, and returns the 32-byte key it wraps. Plaintext of any
// other length is wiped and rejected.
func (c *Client) DecryptSigningKey(ctx context.Context, encoded string) ([]byte, error) {
	blob, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("kms: decode ciphertext: %w", err)
	}
	key, err := c.Decrypt(ctx, blob)
	if err != nil {
		return nil, err
	}
	if len(key) != KeySize {
		n := len(key)
		memguard.WipeBytes(key)
		return nil, fmt.Errorf("%w: got %d bytes", ErrKeySize, n)
	}
	return key, nil
}
