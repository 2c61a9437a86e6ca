// Package qrcode builds and parses the payload printed as a QR code on each
// certificate, and renders it as a PNG.
package qrcode

import (
	"bytes"
	"errors"
	"fmt"
	"image/png"
	"net/url"
	"regexp"
	"strings"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
)

// DefaultSize is the default edge length of a rendered code, in pixels
const DefaultSize = 256

const (
	minSize = 64
	maxSize = 2048
)

var ErrInvalidPayload = errors.New("qrcode: payload does not name a certificate")

var certIDPattern = regexp.MustCompile(`(?i)\b([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}|CERT-[A-Za-z0-9_-]+)\b`)

// BuildPayload returns the verification URL for certID
func BuildPayload(publicURL, certID string) string {
	return strings.TrimRight(publicURL, "/") + "/verify/" + url.PathEscape(certID)
}

// ExtractCertID returns the final path segment of payload. The query string
// and fragment are ignored. Bare identifiers are accepted as-is.
func ExtractCertID(payload string) (string, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return "", ErrInvalidPayload
	}

	path := payload
	if u, err := url.Parse(payload); err == nil {
		path = u.Path
		if u.Opaque != "" {
			path = u.Opaque
		}
	} else if i := strings.IndexAny(payload, "?#"); i >= 0 {
		path = payload[:i]
	}

	path = strings.TrimRight(path, "/")
	segment := path[strings.LastIndex(path, "/")+1:]
	if unescaped, err := url.PathUnescape(segment); err == nil {
		segment = unescaped
	}
	segment = strings.TrimSpace(segment)

	if segment == "" {
		return "", ErrInvalidPayload
	}
	return segment, nil
}

// FallbackCertID finds a UUID or CERT- token anywhere in payload.
// It returns "" when there is none.
func FallbackCertID(payload string) string {
	m := certIDPattern.FindStringSubmatch(payload)
	if m == nil {
		return ""
	}
	return m[1]
}

// EncodePNG renders payload as a square QR code of size pixels
func EncodePNG(payload string, size int) ([]byte, error) {
	if payload == "" {
		return nil, ErrInvalidPayload
	}
	if size <= 0 {
		size = DefaultSize
	}
	if size < minSize || size > maxSize {
		return nil, fmt.Errorf("qr code size must be between %d and %d pixels", minSize, maxSize)
	}

	code, err := qr.Encode(payload, qr.M, qr.Auto)
	if err != nil {
		return nil, fmt.Errorf("failed to encode qr code: %w", err)
	}

	code, err = barcode.Scale(code, size, size)
	if err != nil {
		return nil, fmt.Errorf("failed to scale qr code: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, code); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}

	return buf.Bytes(), nil
}
