// Package secret implements the secret store contract:
// opaque blob values (IMAGE_AES128_KEY, X509_KEY, X509_KEY_CSR) plus the
// TLS device identity used to dial the CSMS. Adapted from mash-go's
// certificate store (pkg/cert), trimmed from multi-zone operational
// certificates down to the single device/CSMS identity this module
// needs, since OCPP has no zone-commissioning concept.
package secret

import (
	"crypto/ecdsa"
	"crypto/tls"
	"crypto/x509"
	"errors"
)

// Well-known blob keys.
const (
	KeyImageAES128 = "IMAGE_AES128_KEY" // 16 bytes
	KeyX509Key     = "X509_KEY"
	KeyX509KeyCSR  = "X509_KEY_CSR"
)

var (
	ErrNotFound    = errors.New("secret: not found")
	ErrInvalidCert = errors.New("secret: invalid certificate")
)

// DeviceIdentity is the device's TLS client identity presented to the
// CSMS ("TLS credentials (device key, device cert, CA)
// loaded from secret store").
type DeviceIdentity struct {
	Certificate *x509.Certificate
	PrivateKey  *ecdsa.PrivateKey
	CACert      *x509.Certificate
}

// TLSConfig builds a client tls.Config trusting CACert and presenting
// Certificate/PrivateKey, for dialing the CSMS endpoint.
func (d DeviceIdentity) TLSConfig() (*tls.Config, error) {
	if d.Certificate == nil || d.PrivateKey == nil {
		return nil, ErrInvalidCert
	}
	pool := x509.NewCertPool()
	if d.CACert != nil {
		pool.AddCert(d.CACert)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{{
			Certificate: [][]byte{d.Certificate.Raw},
			PrivateKey:  d.PrivateKey,
			Leaf:        d.Certificate,
		}},
		RootCAs: pool,
	}, nil
}

// Store is the secret store interface. Implementations must be safe
// for concurrent access; writers are rare (provisioning/CSR rotation),
// readers are frequent (every TLS dial, every firmware decrypt).
type Store interface {
	// GetBlob returns the opaque value for key, or ErrNotFound.
	GetBlob(key string) ([]byte, error)

	// SetBlob stores an opaque value for key.
	SetBlob(key string, value []byte) error

	// GetDeviceIdentity returns the device's TLS identity.
	GetDeviceIdentity() (DeviceIdentity, error)

	// SetDeviceIdentity stores the device's TLS identity.
	SetDeviceIdentity(DeviceIdentity) error
}
