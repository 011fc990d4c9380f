package rntbd

import (
	"fmt"
	"net"
	"net/url"
)

// Endpoint is a parsed physical-endpoint URI identifying one replica to
// dial: rntbd://host:port/replicaPath for plaintext, rntbds:// for a
// TLS-secured replica. Unlike the teacher's Azure Storage endpoint, there
// is no SAS bootstrap step — RNTBD assumes a provided secure transport
// and dials the replica directly.
type Endpoint struct {
	Scheme      string
	Host        string
	Port        string
	ReplicaPath string

	raw string
}

// ParseEndpoint parses a physical-endpoint URI (§6, "the record's
// physical-endpoint URI" carried on synthetic Gone errors).
func ParseEndpoint(address string) (*Endpoint, error) {
	u, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	if u.Scheme != "rntbd" && u.Scheme != "rntbds" {
		return nil, fmt.Errorf("%w: scheme %q", ErrInvalidEndpoint, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidEndpoint)
	}

	host, port, err := net.SplitHostPort(u.Host)
	if err != nil {
		// A bare host with no port defaults per scheme.
		host = u.Host
		port = defaultPort(u.Scheme)
	}

	return &Endpoint{
		Scheme:      u.Scheme,
		Host:        host,
		Port:        port,
		ReplicaPath: u.Path,
		raw:         address,
	}, nil
}

func defaultPort(scheme string) string {
	if scheme == "rntbds" {
		return "443"
	}
	return "80"
}

// HostPort returns the dialable "host:port" form of the endpoint.
func (e *Endpoint) HostPort() string { return net.JoinHostPort(e.Host, e.Port) }

// String returns the endpoint's original URI.
func (e *Endpoint) String() string { return e.raw }
