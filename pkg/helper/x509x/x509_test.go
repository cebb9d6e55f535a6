package x509x

import (
	"crypto/elliptic"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseCSR(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	der, err := x509.CreateCertificateRequest(randReader, &x509.CertificateRequest{
		Subject: pkix.Name{CommonName: "hello"},
	}, key)
	require.NoError(t, err)

	type args struct {
		pemBytes []byte
	}
	tests := [...]struct {
		name    string
		args    args
		wantErr bool
	}{
		{`valid`, args{EncodeCSRToPEM(der)}, false},
		{`legacy label`, args{pem.EncodeToMemory(&pem.Block{Type: OldCsrPEMBlockType, Bytes: der})}, false},
		{`certificate label`, args{EncodeCertificateToPEM(der)}, true},
		{`not a pem`, args{[]byte("hello world")}, true},
		{`garbage der`, args{EncodeCSRToPEM([]byte("garbage"))}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			csr, err := ParseCSR(tt.args.pemBytes)
			require.Truef(t, (err != nil) == tt.wantErr, `ParseCSR() failed: error = %+v, wantErr = %v`, err, tt.wantErr)
			if tt.wantErr {
				return
			}

			require.Equal(t, "hello", csr.Subject.CommonName)
		})
	}
}

func TestParsePublicKey(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	spki, err := x509.MarshalPKIXPublicKey(key.Public())
	require.NoError(t, err)

	type args struct {
		der []byte
	}
	tests := [...]struct {
		name    string
		args    args
		wantErr bool
	}{
		{`pkix`, args{spki}, false},
		{`sec1 uncompressed`, args{elliptic.Marshal(elliptic.P256(), key.X, key.Y)}, false},
		{`empty`, args{nil}, true},
		{`garbage`, args{[]byte("not a key")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePublicKey(tt.args.der)
			require.Truef(t, (err != nil) == tt.wantErr, `ParsePublicKey() failed: error = %+v, wantErr = %v`, err, tt.wantErr)
			if tt.wantErr {
				return
			}

			require.True(t, key.PublicKey.Equal(got))
		})
	}
}

func TestPrivateKeyPEM(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	pemBytes, err := EncodePrivateKeyToPEM(key)
	require.NoError(t, err)

	got, err := ParsePrivateKey(pemBytes)
	require.NoError(t, err)
	require.True(t, key.Equal(got))
}

func TestKeyUsageToStr(t *testing.T) {
	require.Equal(t, []string{"Digital Signature", "Certificate Sign"}, KeyUsageToStr(x509.KeyUsageDigitalSignature|x509.KeyUsageCertSign))
	require.Equal(t, []string{"TLS Web Client Authentication"}, ExtKeyUsageToStr([]x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}))
}
