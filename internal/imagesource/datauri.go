package imagesource

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
)

// decodeDataURI returns the payload of an RFC 2397 data URI.
func decodeDataURI(ref string) ([]byte, error) {
	rest, ok := strings.CutPrefix(ref, "data:")
	if !ok {
		return nil, fmt.Errorf("%w: not a data URI", ErrDecode)
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, fmt.Errorf("%w: data URI without payload", ErrDecode)
	}
	if strings.HasSuffix(strings.ToLower(meta), ";base64") {
		b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
		if err != nil {
			// Browsers emit unpadded and URL-safe variants.
			if b, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(strings.TrimSpace(payload), "=")); err != nil {
				return nil, fmt.Errorf("%w: data URI base64: %w", ErrDecode, err)
			}
		}
		return b, nil
	}
	s, err := url.PathUnescape(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: data URI: %w", ErrDecode, err)
	}
	return []byte(s), nil
}
