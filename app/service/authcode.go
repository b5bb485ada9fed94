package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base32"
	"strconv"
	"strings"
	"time"
)

const authCodeLength = 16

var authCodeEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// mintAuthCode binds the code to the intent, card, amount and expiry so it cannot be
// replayed against another tap or guessed without the secret.
func mintAuthCode(secret []byte, intentID, cardID string, amount int64, validUntil time.Time) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strings.Join([]string{
		intentID,
		cardID,
		strconv.FormatInt(amount, 10),
		strconv.FormatInt(validUntil.UnixMilli(), 10),
	}, "|")))
	return authCodeEncoding.EncodeToString(mac.Sum(nil))[:authCodeLength]
}

// VerifyAuthCode reports whether code was minted for the given intent and is still valid at now.
func VerifyAuthCode(secret []byte, code, intentID, cardID string, amount int64, validUntil, now time.Time) bool {
	if code == "" || !now.Before(validUntil) {
		return false
	}
	expected := mintAuthCode(secret, intentID, cardID, amount, validUntil)
	return hmac.Equal([]byte(expected), []byte(code))
}
