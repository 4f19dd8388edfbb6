package security

import (
	"context"
	"crypto/tls"
	"fmt"
	"math"
	"net"
	"net/url"
	"time"

	"github.com/adlens/adlens/agent/internal/config"
	"github.com/adlens/adlens/pkg/types"
)

// expiringDays is when a certificate starts being reported as expiring.
const expiringDays = 30

// Certificate states.
const (
	StatusValid       = "valid"
	StatusExpiring    = "expiring"
	StatusExpired     = "expired"
	StatusUnreachable = "unreachable"
)

// CertStatus describes the leaf certificate of a report endpoint.
type CertStatus struct {
	Endpoint string
	Status   string
	Issuer   string
	NotAfter time.Time
	DaysLeft int
}

// Check dials the TLS endpoint of src and returns the status of its leaf
// certificate. It returns nil for sources without an https endpoint.
// The dial is bounded to 10 seconds so a slow host does not stall the run.
func Check(ctx context.Context, src config.Source, now time.Time) *CertStatus {
	u, err := url.Parse(src.Endpoint)
	if err != nil || u.Scheme != "https" {
		return nil
	}
	cs := &CertStatus{Endpoint: src.Endpoint}

	host := u.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "443")
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{},
		Config: &tls.Config{
			InsecureSkipVerify: src.TLS.InsecureSkipVerify, //nolint:gosec // user-configured
		},
	}
	netConn, err := dialer.DialContext(dialCtx, "tcp", host)
	if err != nil {
		cs.Status = StatusUnreachable
		return cs
	}
	conn := netConn.(*tls.Conn)
	defer conn.Close()

	peerCerts := conn.ConnectionState().PeerCertificates
	if len(peerCerts) == 0 {
		cs.Status = StatusUnreachable
		return cs
	}

	leaf := peerCerts[0]
	daysLeft := leaf.NotAfter.Sub(now).Hours() / 24
	cs.NotAfter = leaf.NotAfter.UTC()
	cs.Issuer = leaf.Issuer.CommonName
	cs.DaysLeft = int(math.Floor(daysLeft))

	switch {
	case daysLeft <= 0:
		cs.Status = StatusExpired
	case daysLeft <= expiringDays:
		cs.Status = StatusExpiring
	default:
		cs.Status = StatusValid
	}
	return cs
}

// Finding turns an expiring or expired certificate into a result finding.
// It returns false for valid or unreachable endpoints; an unreachable
// endpoint already fails the report read.
func (cs *CertStatus) Finding() (types.Finding, bool) {
	if cs == nil {
		return types.Finding{}, false
	}
	switch cs.Status {
	case StatusExpired:
		return types.Finding{
			Severity: types.SeverityCritical,
			Entity:   cs.Endpoint,
			Rule:     "cert_expired",
			Message:  fmt.Sprintf("certificate issued by %q expired on %s", cs.Issuer, cs.NotAfter.Format(time.DateOnly)),
			Value:    float64(cs.DaysLeft),
		}, true
	case StatusExpiring:
		return types.Finding{
			Severity: types.SeverityWarning,
			Entity:   cs.Endpoint,
			Rule:     "cert_expiring",
			Message:  fmt.Sprintf("certificate issued by %q expires in %d days", cs.Issuer, cs.DaysLeft),
			Value:    float64(cs.DaysLeft),
		}, true
	}
	return types.Finding{}, false
}
