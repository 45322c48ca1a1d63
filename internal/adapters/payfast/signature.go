// Package payfast implements the PayFast merchant integration: request
// signatures, ITN (instant transaction notification) parsing and verification,
// server-side validation and checkout payloads.
package payfast

import (
	"crypto/hmac"
	"crypto/md5" //nolint:gosec // PayFast signatures are defined as MD5
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"github.com/alecsomers1980/aloe-signs-website/internal/domain"
)

const signatureField = "signature"

// Field is a single key/value pair. PayFast signs fields in posting order so
// they are never kept in a map.
type Field struct {
	Key   string
	Value string
}

type Fields []Field

func (f Fields) Get(key string) string {
	for _, field := range f {
		if field.Key == key {
			return field.Value
		}
	}
	return ""
}

// Map returns the fields as a map, dropping the signature.
func (f Fields) Map() map[string]string {
	out := make(map[string]string, len(f))
	for _, field := range f {
		if field.Key == signatureField {
			continue
		}
		out[field.Key] = field.Value
	}
	return out
}

// ParamString joins the non-empty, non-signature fields as k=v pairs. This is
// the checkout rule; notifications use ITNParamString.
func (f Fields) ParamString() string {
	parts := make([]string, 0, len(f))
	for _, field := range f {
		if field.Key == signatureField || field.Value == "" {
			continue
		}
		parts = append(parts, field.Key+"="+Encode(strings.TrimSpace(field.Value)))
	}
	return strings.Join(parts, "&")
}

// ITNParamString joins every posted field except the signature, in posting
// order and including empty values. PayFast signs ITNs and expects validation
// postbacks in this form.
func (f Fields) ITNParamString() string {
	parts := make([]string, 0, len(f))
	for _, field := range f {
		if field.Key == signatureField {
			continue
		}
		parts = append(parts, field.Key+"="+Encode(field.Value))
	}
	return strings.Join(parts, "&")
}

// Encode reproduces PHP urlencode, which PayFast uses on its side.
func Encode(v string) string {
	return strings.ReplaceAll(url.QueryEscape(v), "~", "%7E")
}

// Signature signs checkout fields.
func Signature(fields Fields, passphrase string) string {
	return sign(fields.ParamString(), passphrase)
}

// ITNSignature is the signature PayFast attaches to a notification.
func ITNSignature(fields Fields, passphrase string) string {
	return sign(fields.ITNParamString(), passphrase)
}

func sign(payload, passphrase string) string {
	if passphrase != "" {
		payload += "&passphrase=" + Encode(strings.TrimSpace(passphrase))
	}
	sum := md5.Sum([]byte(payload)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// Verify recomputes the signature and compares it with the posted one.
func Verify(n Notification, passphrase string) error {
	if n.Signature == "" {
		return fmt.Errorf("%w: signature missing", domain.ErrInvalidSignature)
	}
	expected := ITNSignature(n.Fields, passphrase)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(n.Signature))) {
		return domain.ErrInvalidSignature
	}
	return nil
}
