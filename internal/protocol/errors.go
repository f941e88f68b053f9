package protocol

import (
	"context"
	"errors"

	"cabincraft.ai/internal/sim/site"
	"cabincraft.ai/internal/terrain"
)

const (
	// Provider/connectivity.
	ErrUnreachable  = "E_UNREACHABLE"
	ErrNoBuildArea  = "E_NO_BUILD_AREA"
	ErrProviderFail = "E_PROVIDER"

	// Site selection.
	ErrNoSite     = "E_NO_SITE"
	ErrSiteUneven = "E_SITE_UNEVEN"

	// Local setup and everything else.
	ErrBadConfig = "E_BAD_CONFIG"
	ErrCanceled  = "E_CANCELED"
	ErrInternal  = "E_INTERNAL"
)

// ErrInvalidConfig marks errors caused by local tuning or catalogs rather
// than by the world.
var ErrInvalidConfig = errors.New("invalid configuration")

var knownCodes = map[string]struct{}{
	ErrUnreachable:  {},
	ErrNoBuildArea:  {},
	ErrProviderFail: {},
	ErrNoSite:       {},
	ErrSiteUneven:   {},
	ErrBadConfig:    {},
	ErrCanceled:     {},
	ErrInternal:     {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// CodeOf classifies a run error. A nil error has the empty code.
func CodeOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, terrain.ErrUnreachable):
		return ErrUnreachable
	case errors.Is(err, terrain.ErrNoBuildArea):
		return ErrNoBuildArea
	case errors.Is(err, terrain.ErrProvider):
		return ErrProviderFail
	case errors.Is(err, site.ErrNoSite):
		return ErrNoSite
	case errors.Is(err, site.ErrTooUneven):
		return ErrSiteUneven
	case errors.Is(err, ErrInvalidConfig):
		return ErrBadConfig
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrCanceled
	default:
		return ErrInternal
	}
}
