package rntbd

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEndpointPlaintext(t *testing.T) {
	ep, err := ParseEndpoint("rntbd://10.0.0.5:19103/partitions/abc/replicas/1p/")
	require.NoError(t, err)
	assert.Equal(t, "rntbd", ep.Scheme)
	assert.Equal(t, "10.0.0.5", ep.Host)
	assert.Equal(t, "19103", ep.Port)
	assert.Equal(t, "/partitions/abc/replicas/1p/", ep.ReplicaPath)
	assert.Equal(t, "10.0.0.5:19103", ep.HostPort())
	assert.Equal(t, "rntbd://10.0.0.5:19103/partitions/abc/replicas/1p/", ep.String())
}

func TestParseEndpointDefaultsPortPerScheme(t *testing.T) {
	plain, err := ParseEndpoint("rntbd://host")
	require.NoError(t, err)
	assert.Equal(t, "80", plain.Port)

	secure, err := ParseEndpoint("rntbds://host")
	require.NoError(t, err)
	assert.Equal(t, "443", secure.Port)
}

func TestParseEndpointRejectsUnknownScheme(t *testing.T) {
	_, err := ParseEndpoint("https://host:1")
	assert.True(t, errors.Is(err, ErrInvalidEndpoint))
}

func TestParseEndpointRejectsMissingHost(t *testing.T) {
	_, err := ParseEndpoint("rntbd:///replicas/1p/")
	assert.True(t, errors.Is(err, ErrInvalidEndpoint))
}
