package identity

import "errors"

var (
	errNoResolver  = errors.New("identity: fold context has no blob resolver")
	errBlobMissing = errors.New("identity: referenced document blob not found locally")
)
