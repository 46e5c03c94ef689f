package wsaa

import (
	"crypto"
	"crypto/x509"
	"encoding/base64"
	"fmt"

	"github.com/smallstep/pkcs7"
)

// SignLoginRequest wraps a request document in the CMS SignedData envelope
// WSAA expects: a SHA1+RSA signature over exactly the builder's bytes, with
// the signer certificate embedded and the content attached, DER encoded and
// then base64 encoded for the SOAP call.
//
// The key stays behind the crypto.Signer capability; nothing here sees raw
// key material.
func SignLoginRequest(req *LoginTicketRequest, cert *x509.Certificate, key crypto.Signer) (string, error) {
	signed, err := pkcs7.NewSignedData(req.Bytes())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSigning, err)
	}

	// AFIP's gateway still requires SHA1 digests.
	signed.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA1)

	if err := signed.AddSigner(cert, key, pkcs7.SignerInfoConfig{}); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSigning, err)
	}

	der, err := signed.Finish()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSigning, err)
	}

	return base64.StdEncoding.EncodeToString(der), nil
}
