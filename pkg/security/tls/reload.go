package tls

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// expiryWarning is how close to expiry a loaded certificate is logged as
// a warning.
const expiryWarning = 30 * 24 * time.Hour

// CertificateReloader serves a certificate pair and reloads it when either
// file's modification time moves forward.
type CertificateReloader struct {
	certFile string
	keyFile  string
	interval time.Duration
	logger   *slog.Logger

	mu       sync.RWMutex
	cert     *tls.Certificate
	notAfter time.Time
	certTime time.Time
	keyTime  time.Time
}

// NewCertificateReloader creates a reloader. Nothing is read until Start.
func NewCertificateReloader(certFile, keyFile string, interval time.Duration) *CertificateReloader {
	return &CertificateReloader{
		certFile: certFile,
		keyFile:  keyFile,
		interval: interval,
		logger:   slog.Default().With("component", "tls"),
	}
}

// Start loads the pair and checks for changes every interval until ctx is
// done. An initial load failure is returned.
func (r *CertificateReloader) Start(ctx context.Context) error {
	if err := r.reload(); err != nil {
		return err
	}
	go r.loop(ctx)
	return nil
}

func (r *CertificateReloader) loop(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !r.changed() {
				continue
			}
			if err := r.reload(); err != nil {
				r.logger.Error("Certificate reload failed, keeping the current certificate",
					"cert_file", r.certFile,
					"error", err,
				)
			}
		}
	}
}

// changed reports whether either file is newer than the loaded pair.
func (r *CertificateReloader) changed() bool {
	certInfo, err := os.Stat(r.certFile)
	if err != nil {
		return false
	}
	keyInfo, err := os.Stat(r.keyFile)
	if err != nil {
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return certInfo.ModTime().After(r.certTime) || keyInfo.ModTime().After(r.keyTime)
}

func (r *CertificateReloader) reload() error {
	certInfo, err := os.Stat(r.certFile)
	if err != nil {
		return err
	}
	keyInfo, err := os.Stat(r.keyFile)
	if err != nil {
		return err
	}

	cert, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
	if err != nil {
		return err
	}
	leaf, err := leafOf(&cert)
	if err != nil {
		return err
	}
	if err := checkValidity(leaf, time.Now()); err != nil {
		return err
	}

	r.mu.Lock()
	r.cert = &cert
	r.notAfter = leaf.NotAfter
	r.certTime = certInfo.ModTime()
	r.keyTime = keyInfo.ModTime()
	r.mu.Unlock()

	remaining := time.Until(leaf.NotAfter)
	attrs := []any{
		"subject", leaf.Subject.CommonName,
		"expires_at", leaf.NotAfter.Format(time.RFC3339),
		"expires_in_days", int(remaining.Hours() / 24),
	}
	if remaining < expiryWarning {
		r.logger.Warn("Certificate expiring soon", attrs...)
	} else {
		r.logger.Info("Certificate loaded", attrs...)
	}
	return nil
}

// GetCertificate returns the current certificate.
func (r *CertificateReloader) GetCertificate() *tls.Certificate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cert
}

// NotAfter returns the expiry of the current certificate.
func (r *CertificateReloader) NotAfter() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.notAfter
}

// GetCertificateFunc adapts the reloader to tls.Config.GetCertificate.
func (r *CertificateReloader) GetCertificateFunc() func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		if cert := r.GetCertificate(); cert != nil {
			return cert, nil
		}
		return nil, errors.New("no certificate loaded")
	}
}

func leafOf(cert *tls.Certificate) (*x509.Certificate, error) {
	if cert.Leaf != nil {
		return cert.Leaf, nil
	}
	if len(cert.Certificate) == 0 {
		return nil, errors.New("certificate chain is empty")
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return leaf, nil
}

func checkValidity(cert *x509.Certificate, now time.Time) error {
	if now.Before(cert.NotBefore) {
		return fmt.Errorf("certificate is not yet valid (valid from %s)", cert.NotBefore.Format(time.RFC3339))
	}
	if now.After(cert.NotAfter) {
		return fmt.Errorf("certificate expired on %s", cert.NotAfter.Format(time.RFC3339))
	}
	return nil
}
