// Package webhooksec verifies inbound Twilio webhook signatures so that
// reply and delivery-status callbacks can be trusted before they mutate
// lead state.
package webhooksec

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"sort"
	"strings"
)

// Validator verifies the X-Twilio-Signature header against the request
// URL and form body, using the account's auth token as the HMAC key.
type Validator struct {
	authToken string
}

func NewValidator(authToken string) *Validator {
	return &Validator{authToken: authToken}
}

// Enabled reports whether signature verification can run at all. Callers
// should treat a disabled validator as "skip verification" only outside
// of dry-run/production, never silently in production.
func (v *Validator) Enabled() bool {
	return v.authToken != ""
}

// ComputeSignature reproduces the expected signature: the full request
// URL with the sorted POST parameters' keys and values concatenated
// directly onto it (no URL encoding), HMAC-SHA1'd with the auth token
// and base64-encoded.
func (v *Validator) ComputeSignature(fullURL string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(params[k])
	}

	mac := hmac.New(sha1.New, []byte(v.authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify checks signature against the computed expected value using a
// constant-time comparison. It always fails closed: an empty signature
// or a disabled validator (no auth token configured) is never valid.
func (v *Validator) Verify(fullURL string, params map[string]string, signature string) bool {
	if !v.Enabled() || signature == "" {
		return false
	}
	expected := v.ComputeSignature(fullURL, params)
	return hmac.Equal([]byte(expected), []byte(signature))
}
