// Package codec provides the reversible transforms used to obfuscate target
// URLs inside proxied request paths.
package codec

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
)

// Codec is a reversible string transform. Decode must be the exact inverse of
// Encode for printable UTF-8 input; on malformed input Decode returns its
// input unchanged so callers can degrade gracefully.
type Codec interface {
	Encode(s string) string
	Decode(s string) string
}

// Names of the supported codecs, valid values for the proxy.codec config key.
const (
	NameNone    = "none"
	NamePercent = "percent"
	NameXOR     = "xor"
	NameBase64  = "base64"
)

// ByName returns the codec registered under name.
func ByName(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case NameNone:
		return None{}, nil
	case NamePercent:
		return Percent{}, nil
	case NameXOR:
		return XOR{}, nil
	case NameBase64:
		return Base64{}, nil
	default:
		return nil, fmt.Errorf("codec: unknown codec %q", name)
	}
}

// None is the identity codec.
type None struct{}

func (None) Encode(s string) string { return s }
func (None) Decode(s string) string { return s }

// Percent percent-encodes every reserved byte, mirroring encodeURIComponent.
type Percent struct{}

func (Percent) Encode(s string) string { return escape(s) }

func (Percent) Decode(s string) string {
	out, err := url.QueryUnescape(s)
	if err != nil {
		return s
	}
	return out
}

// XOR flips bit 1 of every odd-indexed rune and percent-encodes the result.
// The key is fixed; the transform is its own inverse before encoding.
type XOR struct{}

const xorKey = 2

func (XOR) Encode(s string) string {
	return escape(xorAlternate(s))
}

func (XOR) Decode(s string) string {
	unescaped, err := url.QueryUnescape(s)
	if err != nil {
		return s
	}
	return xorAlternate(unescaped)
}

func xorAlternate(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i, r := range []rune(s) {
		if i%2 == 1 {
			r ^= xorKey
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Base64 percent-encodes the input and then base64-encodes it.
type Base64 struct{}

func (Base64) Encode(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(escape(s)))
}

func (Base64) Decode(s string) string {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return s
	}
	out, err := url.QueryUnescape(string(raw))
	if err != nil {
		return s
	}
	return out
}

// escape mirrors encodeURIComponent: QueryEscape, but spaces as %20 so the
// output is safe inside a URL path segment.
func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
