package qart

import "errors"

var (
	ErrInvalidKey    = errors.New("invalid container key")
	ErrNoDownloadURL = errors.New("no download url in response")
)
