package tls

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"
)

// Config configures server TLS.
type Config struct {
	CertFile string
	KeyFile  string

	// MinVersion is "1.2" or "1.3". Default: "1.2"
	MinVersion string

	// ReloadInterval is how often the files are checked. Default: 5m
	ReloadInterval time.Duration
}

// ServerConfig loads the certificate pair and returns a tls.Config that
// serves it through a reloader. The reloader stops when ctx is done.
func ServerConfig(ctx context.Context, cfg Config) (*tls.Config, *CertificateReloader, error) {
	if cfg.CertFile == "" || cfg.KeyFile == "" {
		return nil, nil, fmt.Errorf("cert_file and key_file are required when TLS is enabled")
	}
	version, err := parseVersion(cfg.MinVersion)
	if err != nil {
		return nil, nil, err
	}
	interval := cfg.ReloadInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	reloader := NewCertificateReloader(cfg.CertFile, cfg.KeyFile, interval)
	if err := reloader.Start(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to load certificate: %w", err)
	}

	// #nosec G402 - MinVersion is at least TLS 1.2
	return &tls.Config{
		MinVersion:     version,
		GetCertificate: reloader.GetCertificateFunc(),
	}, reloader, nil
}

func parseVersion(v string) (uint16, error) {
	switch v {
	case "1.2", "":
		return tls.VersionTLS12, nil
	case "1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("unsupported TLS min version %q", v)
	}
}
