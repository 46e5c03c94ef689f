// Package credentials loads and validates the X.509 certificate and RSA
// private key pair issued by AFIP for web-service authentication. The private
// key is owned exclusively by the Store; the rest of the system signs through
// the crypto.Signer capability and never sees key material.
package credentials

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mr-tron/base58"
	"github.com/rs/zerolog/log"
	"github.com/youmark/pkcs8"
	"software.sslmate.com/src/go-pkcs12"
)

// Sentinel errors
var (
	// ErrNoCertificate is returned when the certificate source holds no parseable certificate.
	ErrNoCertificate = errors.New("no certificate found")

	// ErrInvalidPrivateKey is returned when the private key cannot be parsed or is not RSA.
	ErrInvalidPrivateKey = errors.New("invalid private key")

	// ErrPassphraseRequired is returned when the key is encrypted and no passphrase was provided.
	ErrPassphraseRequired = errors.New("private key is encrypted, passphrase required")

	// ErrCertificateExpired is returned when the current time is past the certificate's notAfter.
	ErrCertificateExpired = errors.New("certificate has expired")

	// ErrCertificateNotYetValid is returned when the current time is before the certificate's notBefore.
	ErrCertificateNotYetValid = errors.New("certificate is not yet valid")

	// ErrKeyMismatch is returned when the certificate's public key does not match the private key.
	ErrKeyMismatch = errors.New("certificate does not match private key")
)

// Store holds a validated certificate/private-key pair for the lifetime of
// the process. It is immutable after construction; rotation is an explicit
// reload by the owner, never a hot swap.
type Store struct {
	cert *x509.Certificate
	key  *rsa.PrivateKey
}

// New builds a Store from PEM-encoded certificate and private key bytes.
// The key may be PKCS#1 ("RSA PRIVATE KEY"), PKCS#8 ("PRIVATE KEY") or
// passphrase-protected PKCS#8 ("ENCRYPTED PRIVATE KEY").
func New(certData, keyData []byte, passphrase string) (*Store, error) {
	cert, err := parseCertificate(certData)
	if err != nil {
		return nil, err
	}

	key, err := parsePrivateKey(keyData, passphrase)
	if err != nil {
		return nil, err
	}

	store := &Store{cert: cert, key: key}

	log.Debug().
		Str("subject", store.SubjectDN()).
		Str("fingerprint", store.Fingerprint()).
		Time("not_after", cert.NotAfter).
		Msg("credentials loaded")

	return store, nil
}

// Load reads the certificate and private key from PEM files.
func Load(certPath, keyPath, passphrase string) (*Store, error) {
	certData, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate: %w", err)
	}

	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}

	return New(certData, keyData, passphrase)
}

// LoadP12 reads the certificate and private key from a PKCS#12 bundle
// (.p12/.pfx), the format AFIP's clave-fiscal portal hands out.
func LoadP12(path, passphrase string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read PKCS#12 bundle: %w", err)
	}

	key, cert, err := pkcs12.Decode(data, passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to decode PKCS#12 bundle: %w", err)
	}
	if cert == nil {
		return nil, ErrNoCertificate
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: only RSA keys are supported", ErrInvalidPrivateKey)
	}

	store := &Store{cert: cert, key: rsaKey}

	log.Debug().
		Str("subject", store.SubjectDN()).
		Str("fingerprint", store.Fingerprint()).
		Msg("credentials loaded from PKCS#12 bundle")

	return store, nil
}

// Validate checks that the validity window contains now and that the
// certificate's public key matches the private key. A process that fails
// validation must not serve any ticket request.
func (s *Store) Validate(now time.Time) error {
	if now.Before(s.cert.NotBefore) {
		return fmt.Errorf("%w: not valid before %s", ErrCertificateNotYetValid, s.cert.NotBefore.Format(time.RFC3339))
	}
	if now.After(s.cert.NotAfter) {
		return fmt.Errorf("%w: not valid after %s", ErrCertificateExpired, s.cert.NotAfter.Format(time.RFC3339))
	}

	certKey, ok := s.cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("%w: certificate public key is not RSA", ErrKeyMismatch)
	}
	if !certKey.Equal(&s.key.PublicKey) {
		return ErrKeyMismatch
	}

	return nil
}

// Certificate returns the loaded certificate (public material only).
func (s *Store) Certificate() *x509.Certificate {
	return s.cert
}

// Signer returns the signing capability for the private key. The returned
// value cannot be converted back to the raw key.
func (s *Store) Signer() crypto.Signer {
	return &signer{key: s.key}
}

// SubjectDN returns the certificate subject in RFC 2253 form, used as the
// optional source field of login ticket requests.
func (s *Store) SubjectDN() string {
	return s.cert.Subject.String()
}

// Fingerprint returns the base58-encoded SHA-256 digest of the certificate.
func (s *Store) Fingerprint() string {
	hash := sha256.Sum256(s.cert.Raw)
	return base58.Encode(hash[:])
}

// signer wraps the private key behind crypto.Signer so callers can request
// signatures without ever holding the key itself.
type signer struct {
	key *rsa.PrivateKey
}

func (s *signer) Public() crypto.PublicKey {
	return &s.key.PublicKey
}

func (s *signer) Sign(rand io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	return s.key.Sign(rand, digest, opts)
}

// parseCertificate accepts a PEM-encoded certificate, skipping any other PEM
// blocks in the file, or raw DER as a fallback.
func parseCertificate(data []byte) (*x509.Certificate, error) {
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoCertificate, err)
		}
		return cert, nil
	}

	// Not PEM; AFIP occasionally delivers bare DER (.cer).
	cert, err := x509.ParseCertificate(data)
	if err != nil {
		return nil, fmt.Errorf("%w: not PEM or DER encoded", ErrNoCertificate)
	}
	return cert, nil
}

func parsePrivateKey(data []byte, passphrase string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrInvalidPrivateKey)
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
		}
		return key, nil

	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
		}
		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: only RSA keys are supported", ErrInvalidPrivateKey)
		}
		return key, nil

	case "ENCRYPTED PRIVATE KEY":
		if passphrase == "" {
			return nil, ErrPassphraseRequired
		}
		key, err := pkcs8.ParsePKCS8PrivateKeyRSA(block.Bytes, []byte(passphrase))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
		}
		return key, nil

	default:
		return nil, fmt.Errorf("%w: unsupported PEM type %q", ErrInvalidPrivateKey, block.Type)
	}
}
