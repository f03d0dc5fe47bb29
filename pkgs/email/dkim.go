package email

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/emersion/go-msgauth/dkim"
)

// DKIMOptions configures signing of outgoing messages.
type DKIMOptions struct {
	Domain   string
	Selector string
	Signer   crypto.Signer
	// HeaderKeys lists the signed headers; nil uses the go-msgauth defaults.
	HeaderKeys []string
}

// LoadDKIMKey parses a PEM encoded PKCS#1 RSA or PKCS#8 RSA/Ed25519 key.
func LoadDKIMKey(pemData []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, errors.New("dkim: no PEM block found")
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("dkim: %w", err)
		}
		return key, nil
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("dkim: %w", err)
		}
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("dkim: unsupported key type %T", key)
		}
		return signer, nil
	default:
		return nil, fmt.Errorf("dkim: unsupported PEM block %q", block.Type)
	}
}

// signDKIM returns payload with a DKIM-Signature header prepended.
func signDKIM(payload []byte, opts *DKIMOptions) ([]byte, error) {
	signOpts := dkim.SignOptions{
		Domain:     opts.Domain,
		Selector:   opts.Selector,
		Signer:     opts.Signer,
		Hash:       crypto.SHA256,
		HeaderKeys: opts.HeaderKeys,
	}

	var b bytes.Buffer
	if err := dkim.Sign(&b, bytes.NewReader(payload), &signOpts); err != nil {
		return nil, fmt.Errorf("dkim.Sign: %w", err)
	}
	return b.Bytes(), nil
}
