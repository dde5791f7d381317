package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// SignatureHeader carries the HMAC of the request body.
const SignatureHeader = "X-Hub-Signature"

const signaturePrefix = "sha256="

// maxBody bounds webhook bodies.
const maxBody = 1 << 20

// Sign returns the header value for body under secret.
//
// Format: sha256=hex(hmac-sha256(body))
func Sign(body, secret []byte) string {
	h := hmac.New(sha256.New, secret)
	h.Write(body)
	return signaturePrefix + hex.EncodeToString(h.Sum(nil))
}

// VerifySignature checks a signature header value against body.
func VerifySignature(header string, body, secret []byte) error {
	if header == "" {
		return fmt.Errorf("missing %s header", SignatureHeader)
	}
	if !strings.HasPrefix(header, signaturePrefix) {
		return fmt.Errorf("unsupported signature algorithm")
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil {
		return fmt.Errorf("invalid signature encoding: %w", err)
	}
	h := hmac.New(sha256.New, secret)
	h.Write(body)
	if !hmac.Equal(sig, h.Sum(nil)) {
		return fmt.Errorf("invalid signature")
	}
	return nil
}

// requireSignature rejects requests whose body is not signed with secret. The
// body is buffered so handlers can read it again.
func requireSignature(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
			_ = r.Body.Close()
			if err != nil {
				writeError(w, http.StatusBadRequest, "failed to read request body")
				return
			}
			if err := VerifySignature(r.Header.Get(SignatureHeader), body, secret); err != nil {
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}
