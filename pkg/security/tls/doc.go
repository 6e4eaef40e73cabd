// Package tls builds the gateway's server TLS configuration.
//
// Certificates are served through a CertificateReloader, which checks the
// certificate and key files on an interval and swaps in renewed pairs
// without a restart. A pair that fails to load or has expired is logged
// and the previous certificate keeps serving.
package tls
