package certs

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// Opts holds options for certificates.
type Opts struct {
	CAFile         string `long:"ca_file"          env:"CA_FILE"          description:"Path to the CA cert file to load. Empty uses the system pool."`
	ClientCertFile string `long:"client_cert_file" env:"CLIENT_CERT_FILE" description:"Path to the client certificate .pem file, for mutual TLS."`
	ClientKeyFile  string `long:"client_key_file"  env:"CLIENT_KEY_FILE"  description:"Path to the client key .pem file, for mutual TLS."`
}

// HasClientCertificate returns true if a client certificate pair is configured.
func (c *Opts) HasClientCertificate() bool {
	return c != nil && c.ClientCertFile != ""
}

// ClientTLSConfig returns a client TLS config. A client certificate pair is loaded
// only when configured; the server decides whether to require it.
func (c *Opts) ClientTLSConfig() (*tls.Config, error) {
	config := &tls.Config{}

	if c != nil && c.CAFile != "" {
		pool, err := certificatePool(c.CAFile)
		if err != nil {
			return nil, fmt.Errorf("creating certificate pool: %w", err)
		}
		config.RootCAs = pool
	}

	if c.HasClientCertificate() {
		if c.ClientKeyFile == "" {
			return nil, errors.New("client certificate configured without a client key")
		}
		certificate, err := tls.LoadX509KeyPair(c.ClientCertFile, c.ClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading client key pair: %w", err)
		}
		config.Certificates = []tls.Certificate{certificate}
	}
	return config, nil
}

func certificatePool(filename string) (*x509.CertPool, error) {
	bytes, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if ok := pool.AppendCertsFromPEM(bytes); !ok {
		return nil, errors.New("failed to append CA certs to certificate pool. Is the .pem file valid?")
	}
	return pool, nil
}
