package errorutil

import "errors"

// ErrDataIntegrity is a base error type to use for failures that are due to
// unrecoverable data integrity issues.
var ErrDataIntegrity = errors.New("data integrity error")

// ErrNoHits is returned when a profile has no sample attributed to the
// project, so no share of the total can be computed.
var ErrNoHits = errors.New("no samples attributed to the project")
