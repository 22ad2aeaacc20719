package repair

import "github.com/pkg/errors"

var (
	errNoLinkedVolume             = errors.New("repair: fileset has no linked remote volume")
	errBlocklistRoundTripMismatch = errors.New("repair: blocklist payload does not hash to its declared value")
)
