package asice

import "errors"

var (
	ErrRead           = errors.New("asice: container read failed")
	ErrManifestFormat = errors.New("asice: malformed manifest")
	ErrLimitExceeded  = errors.New("asice: limit exceeded")
	ErrDuplicateEntry = errors.New("asice: duplicate data file name")
)
