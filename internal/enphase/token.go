package enphase

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"envoy-logger/internal/errors"

	"github.com/golang-jwt/jwt/v5"
)

// DecodeExpiry returns the exp claim of an Enphase gateway token. The token
// is not verified: the header and payload segments are decoded and merged,
// the signature segment is ignored.
func DecodeExpiry(token string) (time.Time, error) {
	claims, err := decodeClaims(token)
	if err != nil {
		return time.Time{}, err
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, errors.Wrap(errors.ErrMalformedPayload, fmt.Errorf("token exp claim: %w", err))
	}
	if exp == nil {
		return time.Time{}, errors.Newf(errors.ErrMalformedPayload, "token has no exp claim")
	}

	return exp.Time, nil
}

func decodeClaims(token string) (jwt.MapClaims, error) {
	segments := strings.Split(strings.TrimSpace(token), ".")
	if len(segments) < 2 {
		return nil, errors.Newf(errors.ErrMalformedPayload, "token has %d segments, want at least 2", len(segments))
	}

	claims := jwt.MapClaims{}
	for i, seg := range segments[:2] {
		raw, err := decodeSegment(seg)
		if err != nil {
			return nil, errors.Wrap(errors.ErrMalformedPayload, fmt.Errorf("token segment %d: %w", i, err))
		}

		var part map[string]any
		if err := json.Unmarshal(raw, &part); err != nil {
			return nil, errors.Wrap(errors.ErrMalformedPayload, fmt.Errorf("token segment %d: %w", i, err))
		}
		for k, v := range part {
			claims[k] = v
		}
	}

	return claims, nil
}

// decodeSegment restores padding to a multiple of 4 and accepts both the
// URL-safe and the standard alphabet.
func decodeSegment(seg string) ([]byte, error) {
	if rem := len(seg) % 4; rem != 0 {
		seg += strings.Repeat("=", 4-rem)
	}

	raw, err := base64.URLEncoding.DecodeString(seg)
	if err == nil {
		return raw, nil
	}
	return base64.StdEncoding.DecodeString(seg)
}
