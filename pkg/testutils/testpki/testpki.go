// Package testpki builds certified device identities for tests.
package testpki

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"setls/ca"
	"setls/chain"
	client "setls/client/authority"
	"setls/signer"
)

// Device issued chain and signing identity backed by a software provider
type Device struct {
	Chain    *chain.Chain
	Identity *signer.Identity
	Provider *signer.Software
}

func NewAuthority(t *testing.T) *ca.Authority {
	authority, err := ca.New()
	require.NoError(t, err)
	return authority
}

// NewDevice create device key, CSR and enroll to authority
func NewDevice(t *testing.T, authority *ca.Authority) *Device {
	provider, err := signer.NewSoftware()
	require.NoError(t, err)

	id, err := signer.New(provider)
	require.NoError(t, err)

	csrPEM, err := client.CreateCSR(id)
	require.NoError(t, err)

	issued, err := authority.Issue(context.Background(), csrPEM)
	require.NoError(t, err)

	return &Device{
		Chain:    issued,
		Identity: id,
		Provider: provider,
	}
}
