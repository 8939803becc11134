package radcrypto

import "crypto/sha1" //nolint:gosec // matches the git-shaped store's hash space, not used for security

func sha1Sum(b []byte) [20]byte {
	return sha1.Sum(b)
}
