package hostkey

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // OpenSSH hashed hostnames are defined as HMAC-SHA1
	"encoding/base64"
	"strings"
)

// hashMagic prefixes hashed hostnames in OpenSSH known-hosts files.
const hashMagic = "|1|"

// HashHost returns the OpenSSH hashed form "|1|<salt>|<hmac>" of host using salt.
// host must already be normalized ("host" or "[host]:port").
func HashHost(host string, salt []byte) string {
	mac := hmac.New(sha1.New, salt)
	mac.Write([]byte(host))

	return hashMagic +
		base64.StdEncoding.EncodeToString(salt) + "|" +
		base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// IsHashed reports whether a known-hosts host field is a hashed entry.
func IsHashed(entry string) bool {
	return strings.HasPrefix(entry, hashMagic)
}

// MatchHashedHost reports whether host hashes to the given "|1|salt|hash" entry.
// Malformed entries never match.
func MatchHashedHost(entry, host string) bool {
	if !IsHashed(entry) {
		return false
	}

	salt64, hash64, ok := strings.Cut(entry[len(hashMagic):], "|")
	if !ok {
		return false
	}
	salt, err := base64.StdEncoding.DecodeString(salt64)
	if err != nil {
		return false
	}
	want, err := base64.StdEncoding.DecodeString(hash64)
	if err != nil {
		return false
	}

	mac := hmac.New(sha1.New, salt)
	mac.Write([]byte(host))
	return hmac.Equal(mac.Sum(nil), want)
}
