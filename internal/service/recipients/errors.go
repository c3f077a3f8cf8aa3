package recipients

import "errors"

// ErrSegmentNotFound is returned for a campaign pointing at a missing
// segment. Materializing it with no rules would target every contact.
var ErrSegmentNotFound = errors.New("segment not found")
