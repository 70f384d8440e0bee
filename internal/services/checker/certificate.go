package checker

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/NordCoder/Sitewatch/internal/domain/result"
	"github.com/NordCoder/Sitewatch/internal/domain/target"
	"golang.org/x/crypto/ocsp"
)

// Certificate inspects the TLS certificate served for the target host.
type Certificate struct {
	client *http.Client
	now    func() time.Time
	roots  *x509.CertPool
	ocsp   bool
}

type CertificateOption func(*Certificate)

// WithRoots verifies chains against pool instead of the system roots.
func WithRoots(pool *x509.CertPool) CertificateOption {
	return func(c *Certificate) { c.roots = pool }
}

func WithCertificateClock(now func() time.Time) CertificateOption {
	return func(c *Certificate) { c.now = now }
}

// WithoutOCSP disables the revocation probe.
func WithoutOCSP() CertificateOption {
	return func(c *Certificate) { c.ocsp = false }
}

func NewCertificate(client *http.Client, opts ...CertificateOption) *Certificate {
	c := &Certificate{client: client, now: time.Now, ocsp: true}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Certificate) Kind() target.Kind { return target.KindCertificate }

func (c *Certificate) Check(ctx context.Context, t *target.Target, cfg target.KindConfig) (*result.CheckResult, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	started := time.Now()
	res := newResult(t, c.Kind(), started)

	u, err := url.Parse(t.URL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "https" {
		return fail(res, "Target is not served over https"), nil
	}
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "443"
	}

	d := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: cfg.Timeout},
		// the chain is verified below so that an invalid chain is reported, not fatal
		Config: &tls.Config{ServerName: host, InsecureSkipVerify: true},
	}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, port))
	res.LatencyMS = since(started)
	if err != nil {
		return errored(res, transportReason(ctx, err, cfg.Timeout)), nil
	}
	defer conn.Close()

	certs := conn.(*tls.Conn).ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return errored(res, "Server presented no certificate"), nil
	}
	leaf := certs[0]
	now := c.now()

	days := int(math.Floor(leaf.NotAfter.Sub(now).Hours() / 24))
	expired := now.After(leaf.NotAfter)
	notYetValid := now.Before(leaf.NotBefore)

	chainErr := c.verify(certs, host, now)

	res.Payload["days_until_expiry"] = days
	res.Payload["issuer"] = commonName(leaf.Issuer.CommonName, leaf.Issuer.Organization)
	res.Payload["subject"] = commonName(leaf.Subject.CommonName, leaf.Subject.Organization)
	res.Payload["valid_from"] = leaf.NotBefore.UTC().Format(time.RFC3339)
	res.Payload["valid_until"] = leaf.NotAfter.UTC().Format(time.RFC3339)
	res.Payload["expired"] = expired
	res.Payload["not_yet_valid"] = notYetValid
	res.Payload["chain_valid"] = chainErr == nil
	res.Payload["chain"] = chainInfo(certs)
	res.Payload["warning_days"] = cfg.WarningDays

	revoked := false
	if c.ocsp && chainErr == nil && len(certs) > 1 && len(leaf.OCSPServer) > 0 {
		status := c.revocation(ctx, leaf, certs[1])
		res.Payload["ocsp_status"] = status
		revoked = status == "revoked"
	}
	res.Payload["revoked"] = revoked

	switch {
	case expired:
		return fail(res, "Certificate expired"), nil
	case notYetValid:
		return fail(res, "Certificate not yet valid"), nil
	case chainErr != nil:
		return fail(res, "Certificate chain invalid: "+chainErr.Error()), nil
	case revoked:
		return fail(res, "Certificate revoked"), nil
	case days < cfg.WarningDays:
		return fail(res, fmt.Sprintf("Certificate expires in %d days", days)), nil
	}
	return res, nil
}

func (c *Certificate) verify(certs []*x509.Certificate, host string, now time.Time) error {
	inter := x509.NewCertPool()
	for _, ic := range certs[1:] {
		inter.AddCert(ic)
	}
	// expiry is reported separately, so verify at a time the leaf is valid
	at := now
	if at.After(certs[0].NotAfter) || at.Before(certs[0].NotBefore) {
		at = certs[0].NotBefore.Add(time.Second)
	}
	_, err := certs[0].Verify(x509.VerifyOptions{
		DNSName:       host,
		Roots:         c.roots,
		Intermediates: inter,
		CurrentTime:   at,
	})
	return err
}

// revocation asks the responder named in the leaf; any failure to get an answer is "unknown".
func (c *Certificate) revocation(ctx context.Context, leaf, issuer *x509.Certificate) string {
	body, err := ocsp.CreateRequest(leaf, issuer, nil)
	if err != nil {
		return "unknown"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, leaf.OCSPServer[0], bytes.NewReader(body))
	if err != nil {
		return "unknown"
	}
	req.Header.Set("Content-Type", "application/ocsp-request")
	resp, err := c.client.Do(req)
	if err != nil {
		return "unknown"
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "unknown"
	}
	parsed, err := ocsp.ParseResponseForCert(raw, leaf, issuer)
	if err != nil {
		return "unknown"
	}
	switch parsed.Status {
	case ocsp.Good:
		return "good"
	case ocsp.Revoked:
		return "revoked"
	default:
		return "unknown"
	}
}

func chainInfo(certs []*x509.Certificate) []map[string]string {
	out := make([]map[string]string, 0, len(certs))
	for _, c := range certs {
		out = append(out, map[string]string{
			"subject":     commonName(c.Subject.CommonName, c.Subject.Organization),
			"issuer":      commonName(c.Issuer.CommonName, c.Issuer.Organization),
			"valid_from":  c.NotBefore.UTC().Format(time.RFC3339),
			"valid_until": c.NotAfter.UTC().Format(time.RFC3339),
		})
	}
	return out
}

func commonName(cn string, org []string) string {
	if cn != "" {
		return cn
	}
	if len(org) > 0 {
		return strings.Join(org, ", ")
	}
	return "Unknown"
}
