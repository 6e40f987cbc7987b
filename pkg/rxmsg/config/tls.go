package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2"
)

// TLSDefinition is a tls block. A server needs cert_file and key_file; a
// client needs nothing but may pin a CA or present a certificate for mutual
// TLS.
type TLSDefinition struct {
	CertFile           string    `hcl:"cert_file,optional"`
	KeyFile            string    `hcl:"key_file,optional"`
	CAFile             string    `hcl:"ca_file,optional"`
	ServerName         string    `hcl:"server_name,optional"`
	Mutual             bool      `hcl:"mutual,optional"`
	InsecureSkipVerify bool      `hcl:"insecure_skip_verify,optional"`
	DefRange           hcl.Range `hcl:",def_range"`
}

func (d *TLSDefinition) validate(server bool) hcl.Diagnostics {
	var diags hcl.Diagnostics
	invalid := func(detail string) {
		diags = diags.Append(&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Invalid tls block",
			Detail:   detail,
			Subject:  &d.DefRange,
		})
	}

	if (d.CertFile == "") != (d.KeyFile == "") {
		invalid("cert_file and key_file must be set together")
	}
	if server && d.CertFile == "" {
		invalid("A server tls block needs cert_file and key_file")
	}
	if server && d.Mutual && d.CAFile == "" {
		invalid("Mutual TLS needs ca_file to verify client certificates")
	}
	if !server && d.Mutual && d.CertFile == "" {
		invalid("Mutual TLS needs a client certificate")
	}
	return diags
}

// ServerConfig loads the certificate and, for mutual TLS, the client CA.
func (d *TLSDefinition) ServerConfig() (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(d.CertFile, d.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load tls key pair: %w", err)
	}

	cfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.NoClientCert,
	}

	if d.Mutual {
		pool, err := loadCAPool(d.CAFile)
		if err != nil {
			return nil, err
		}
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
		cfg.ClientCAs = pool
	}
	return cfg, nil
}

// ClientConfig builds a client config. Without ca_file the system roots are
// used.
func (d *TLSDefinition) ClientConfig() (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         d.ServerName,
		InsecureSkipVerify: d.InsecureSkipVerify,
	}

	if d.CAFile != "" {
		pool, err := loadCAPool(d.CAFile)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}

	if d.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(d.CertFile, d.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load tls key pair: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

func loadCAPool(path string) (*x509.CertPool, error) {
	caPEM, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tls ca bundle: %w", err)
	}
	pool := x509.NewCertPool()
	if ok := pool.AppendCertsFromPEM(caPEM); !ok {
		return nil, fmt.Errorf("parse tls ca bundle: %s", path)
	}
	return pool, nil
}
