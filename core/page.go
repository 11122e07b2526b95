package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rheeghang/docent/model"
)

var (
	// ErrInvalidPage indicates a page whose angle configuration cannot drive
	// the blur mapper.
	ErrInvalidPage = errors.New("invalid page config")
)

// ParseAxis maps a configuration string onto an Axis. Empty means alpha,
// which is what most artwork pages use.
func ParseAxis(s string) (model.Axis, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "alpha", "yaw":
		return model.AxisAlpha, true
	case "beta", "pitch":
		return model.AxisBeta, true
	case "gamma", "roll":
		return model.AxisGamma, true
	case "beta_gamma", "betagamma", "tilt":
		return model.AxisBetaGamma, true
	default:
		return "", false
	}
}

// ValidatePage checks the fields the engine consumes.
func ValidatePage(p model.PageConfig) error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidPage)
	}
	if _, ok := ParseAxis(string(p.Axis)); !ok {
		return fmt.Errorf("%w: page %q has unknown axis %q", ErrInvalidPage, p.ID, p.Axis)
	}
	if err := ProfileFor(p).Validate(); err != nil {
		return fmt.Errorf("%w: page %q: %w", ErrInvalidPage, p.ID, err)
	}
	return nil
}
