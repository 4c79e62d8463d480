package utils

const sessionTokenPrefix = "wgs_"

// NewSessionToken generates a session token with 256 bits of entropy.
// The prefix makes a leaked session token structurally distinct from
// the administrative credential.
func NewSessionToken() (string, error) {
	raw, err := Rand(32)
	if err != nil {
		return "", err
	}
	return sessionTokenPrefix + EncodeBase64(raw), nil
}
