package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Request Signing
//
// Every REST call carries a bearer token of the form
// base64url(header).base64url(payload).base64url(HMAC-SHA256 signature),
// with header {alg: HS256, typ: JWT}. When the call has query parameters or
// a body, the payload additionally carries a SHA512 hash of their stable
// serialization.
// -----------------------------------------------------------------------------

type Signer struct {
	AccessKey string
	SecretKey string
}

// -----------------------------------------------------------------------------

type tokenHeader struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

type tokenPayload struct {
	AccessKey    string `json:"access_key"`
	Nonce        string `json:"nonce"`
	QueryHash    string `json:"query_hash,omitempty"`
	QueryHashAlg string `json:"query_hash_alg,omitempty"`
}

// -----------------------------------------------------------------------------

// BearerToken builds the authorization token for one call. queryString is the
// stable serialization of the query parameters or body (empty for calls
// without either).
func (s *Signer) BearerToken(queryString string) (string, error) {
	payload := tokenPayload{
		AccessKey: s.AccessKey,
		Nonce:     uuid.NewString(),
	}
	if queryString != "" {
		sum := sha512.Sum512([]byte(queryString))
		payload.QueryHash = hex.EncodeToString(sum[:])
		payload.QueryHashAlg = "SHA512"
	}

	headerJSON, err := json.Marshal(tokenHeader{Alg: "HS256", Typ: "JWT"})
	if err != nil {
		return "", fmt.Errorf("failed to marshal token header: %w", err)
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal token payload: %w", err)
	}

	enc := base64.RawURLEncoding
	signingInput := enc.EncodeToString(headerJSON) + "." + enc.EncodeToString(payloadJSON)

	mac := hmac.New(sha256.New, []byte(s.SecretKey))
	mac.Write([]byte(signingInput))
	signature := enc.EncodeToString(mac.Sum(nil))

	return signingInput + "." + signature, nil
}

// -----------------------------------------------------------------------------

// StableQueryString serializes query parameters in key-sorted order so that
// semantically equal maps hash (and cache) identically.
func StableQueryString(query map[string]string) string {
	if len(query) == 0 {
		return ""
	}

	values := url.Values{}
	for k, v := range query {
		values.Set(k, v)
	}
	// url.Values.Encode sorts by key, giving the stable order.
	return values.Encode()
}
