package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	standardtls "crypto/tls"
	"crypto/x509"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func parseLeaf(t *testing.T, cert *standardtls.Certificate) *x509.Certificate {
	t.Helper()
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatalf("failed to parse certificate: %v", err)
	}
	return leaf
}

func TestGenerateSelfSignedCert(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		hostname string
		wantCN   string
		wantDNS  []string
		wantIPs  []string
	}{
		{
			name:     "default hostname",
			hostname: "",
			wantCN:   "localhost",
			wantDNS:  []string{"localhost"},
			wantIPs:  []string{"127.0.0.1"},
		},
		{
			name:     "dns hostname",
			hostname: "relay.example",
			wantCN:   "relay.example",
			wantDNS:  []string{"relay.example", "localhost"},
			wantIPs:  []string{"127.0.0.1"},
		},
		{
			name:     "ip hostname",
			hostname: "10.0.0.7",
			wantCN:   "10.0.0.7",
			wantDNS:  []string{"localhost"},
			wantIPs:  []string{"127.0.0.1", "10.0.0.7"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cert, err := GenerateSelfSignedCert(tt.hostname)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			leaf := parseLeaf(t, cert)

			if leaf.Subject.CommonName != tt.wantCN {
				t.Errorf("CN: got %q, want %q", leaf.Subject.CommonName, tt.wantCN)
			}
			if !slices.Equal(leaf.DNSNames, tt.wantDNS) {
				t.Errorf("DNS SANs: got %v, want %v", leaf.DNSNames, tt.wantDNS)
			}
			var ips []string
			for _, ip := range leaf.IPAddresses {
				ips = append(ips, ip.String())
			}
			if !slices.Equal(ips, tt.wantIPs) {
				t.Errorf("IP SANs: got %v, want %v", ips, tt.wantIPs)
			}

			validDuration := leaf.NotAfter.Sub(leaf.NotBefore)
			if validDuration < selfSignedValidity-time.Hour || validDuration > selfSignedValidity+time.Hour {
				t.Errorf("validity duration: got %v, want approximately %v", validDuration, selfSignedValidity)
			}

			ecKey, ok := leaf.PublicKey.(*ecdsa.PublicKey)
			if !ok {
				t.Fatal("public key is not ECDSA")
			}
			if ecKey.Curve != elliptic.P256() {
				t.Errorf("curve: got %v, want P-256", ecKey.Curve.Params().Name)
			}
		})
	}
}

func TestLoadOrGenerateTLS_SelfSigned(t *testing.T) {
	t.Parallel()

	tlsConfig, err := LoadOrGenerateTLS("", "", "relay.example")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tlsConfig.Certificates) != 1 {
		t.Fatalf("Certificates: got %d, want 1", len(tlsConfig.Certificates))
	}
	if tlsConfig.MinVersion != standardtls.VersionTLS12 {
		t.Errorf("MinVersion: got %d, want TLS 1.2 (%d)", tlsConfig.MinVersion, standardtls.VersionTLS12)
	}
	if cn := parseLeaf(t, &tlsConfig.Certificates[0]).Subject.CommonName; cn != "relay.example" {
		t.Errorf("CN: got %q", cn)
	}
}

func TestLoadOrGenerateTLS_FromFiles(t *testing.T) {
	t.Parallel()

	certPEM, keyPEM, err := generatePEM("files.example")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dir := t.TempDir()
	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")
	if err := os.WriteFile(certFile, certPEM, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyFile, keyPEM, 0o600); err != nil {
		t.Fatal(err)
	}

	tlsConfig, err := LoadOrGenerateTLS(certFile, keyFile, "ignored.example")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cn := parseLeaf(t, &tlsConfig.Certificates[0]).Subject.CommonName; cn != "files.example" {
		t.Errorf("CN: got %q, want the certificate from disk", cn)
	}
}

func TestLoadOrGenerateTLS_FileNotFound(t *testing.T) {
	t.Parallel()

	_, err := LoadOrGenerateTLS("/nonexistent/cert.pem", "/nonexistent/key.pem", "")
	if err == nil {
		t.Error("expected error for nonexistent files, got nil")
	}
}
