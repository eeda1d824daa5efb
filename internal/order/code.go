package order

import (
	"crypto/rand"
	"strings"
	"time"
)

const crockford = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// newCode returns PREFIX-yymmdd-XXXXXX where the suffix is six random
// Crockford base32 characters.
func newCode(prefix string, now time.Time) (string, error) {
	var buf [6]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.WriteString(strings.ToUpper(prefix))
	sb.WriteByte('-')
	sb.WriteString(now.UTC().Format("060102"))
	sb.WriteByte('-')
	for _, b := range buf {
		sb.WriteByte(crockford[b%32])
	}
	return sb.String(), nil
}
