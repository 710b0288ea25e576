package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidSignature is returned when an item's HMAC does not match.
var ErrInvalidSignature = errors.New("webhook: invalid hmac signature")

const signatureKey = "hmacSignature"

// SigningString builds the provider's canonical payload for one notification
// item. Field order is fixed by the provider; backslashes and colons inside
// values are escaped before joining.
func SigningString(item Item) string {
	parts := []string{
		item.PSPReference,
		item.OriginalReference,
		item.MerchantAccountCode,
		item.MerchantReference,
		strconv.FormatInt(item.Amount.Value, 10),
		item.Amount.Currency,
		item.EventCode,
		strconv.FormatBool(bool(item.Success)),
	}
	escaped := make([]string, len(parts))
	for i, p := range parts {
		p = strings.ReplaceAll(p, `\`, `\\`)
		escaped[i] = strings.ReplaceAll(p, ":", `\:`)
	}
	return strings.Join(escaped, ":")
}

// Sign computes the base64 HMAC-SHA256 of the item's signing string. The key
// is the provider's hex-encoded shared secret.
func Sign(hexKey string, item Item) (string, error) {
	key, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil {
		return "", fmt.Errorf("webhook: decode hmac key: %w", err)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(SigningString(item)))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// Verify checks the item's hmacSignature field against the shared secret in
// constant time.
func Verify(hexKey string, item Item) error {
	provided := item.AdditionalData[signatureKey]
	if provided == "" {
		return fmt.Errorf("%w: signature missing", ErrInvalidSignature)
	}
	expected, err := Sign(hexKey, item)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(expected), []byte(provided)) {
		return ErrInvalidSignature
	}
	return nil
}
