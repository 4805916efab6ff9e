// Package certloader loads and hot-reloads the TLS certificate used
// by the RTMPS and HTTPS listeners, generating a self-signed one when
// none is configured.
package certloader

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"strings"
	"sync"

	"github.com/relaycore/relaycore/internal/confwatcher"
	"github.com/relaycore/relaycore/internal/logger"
)

// CertLoader watches a certificate/key pair on disk and serves the
// latest version to a tls.Config via GetCertificate.
type CertLoader struct {
	CertPath string
	KeyPath  string
	Parent   logger.Writer

	certWatcher, keyWatcher *confwatcher.Watcher
	cert                    *tls.Certificate
	mutex                   sync.RWMutex
	done                    chan struct{}
}

// Initialize loads the initial certificate (generating a self-signed
// one at CertPath/KeyPath if absent) and starts watching both files
// for changes.
func (cl *CertLoader) Initialize() error {
	cl.done = make(chan struct{})

	if err := ensureCertExists(cl.CertPath, cl.KeyPath); err != nil {
		return err
	}

	cl.certWatcher = &confwatcher.Watcher{FilePath: cl.CertPath}
	if err := cl.certWatcher.Initialize(); err != nil {
		return err
	}

	cl.keyWatcher = &confwatcher.Watcher{FilePath: cl.KeyPath}
	if err := cl.keyWatcher.Initialize(); err != nil {
		cl.certWatcher.Close()
		return err
	}

	cert, err := tls.LoadX509KeyPair(cl.CertPath, cl.KeyPath)
	if err != nil {
		return fmt.Errorf("certloader: %w", err)
	}

	cl.mutex.Lock()
	cl.cert = &cert
	cl.mutex.Unlock()

	go cl.watch()
	return nil
}

// Close stops watching and releases the loaded certificate.
func (cl *CertLoader) Close() {
	close(cl.done)
	cl.certWatcher.Close()
	cl.keyWatcher.Close()

	cl.mutex.Lock()
	defer cl.mutex.Unlock()
	cl.cert = nil
}

// GetCertificate is suitable for tls.Config.GetCertificate.
func (cl *CertLoader) GetCertificate() func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(_ *tls.ClientHelloInfo) (*tls.Certificate, error) {
		cl.mutex.RLock()
		defer cl.mutex.RUnlock()
		return cl.cert, nil
	}
}

func (cl *CertLoader) watch() {
	for {
		select {
		case <-cl.certWatcher.Watch():
			cl.reload(cl.CertPath)
		case <-cl.keyWatcher.Watch():
			cl.reload(cl.KeyPath)
		case <-cl.done:
			return
		}
	}
}

func (cl *CertLoader) reload(changed string) {
	cert, err := tls.LoadX509KeyPair(cl.CertPath, cl.KeyPath)
	if err != nil {
		cl.Parent.Log(logger.Error, "certloader: failed to reload after change to %s: %s", changed, err)
		return
	}

	cl.mutex.Lock()
	cl.cert = &cert
	cl.mutex.Unlock()

	cl.Parent.Log(logger.Info, "certificate reloaded after change to %s", changed)
}

// VerifyPeerFingerprint builds a tls.Config that skips normal chain
// verification in favor of checking the peer leaf certificate's
// SHA-256 fingerprint, for pinned outbound connections (e.g. the
// forward bridge dialing a known downstream server).
func VerifyPeerFingerprint(fingerprint string) *tls.Config {
	if fingerprint == "" {
		return nil
	}

	return &tls.Config{
		InsecureSkipVerify: true, //nolint:gosec
		VerifyConnection: func(cs tls.ConnectionState) error {
			return checkFingerprint(cs.PeerCertificates[0], fingerprint)
		},
	}
}

func checkFingerprint(cert *x509.Certificate, fingerprint string) error {
	got := sha256Hex(cert.Raw)
	want := strings.ToLower(fingerprint)
	if got != want {
		return fmt.Errorf("certloader: peer fingerprint mismatch: expected %s, got %s", want, got)
	}
	return nil
}
