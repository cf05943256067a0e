// Package imt defines intensity measure types for ground-motion analysis.
//
// An IMT identifies a scalar ground-motion amplitude measure: peak ground
// acceleration (PGA), peak ground velocity (PGV), or the 5%-damped spectral
// acceleration at a period, written "SA(0.2)".
package imt

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// IMT is an intensity measure type. The zero value is invalid; construct
// values with Parse, PGA, PGV or SA.
type IMT struct {
	name   string
	period float64
}

var saRegexp = regexp.MustCompile(`^SA\(([^)]+)\)$`)

// PGA returns the peak ground acceleration IMT.
func PGA() IMT {
	return IMT{name: "PGA"}
}

// PGV returns the peak ground velocity IMT.
func PGV() IMT {
	return IMT{name: "PGV"}
}

// SA returns the spectral acceleration IMT at the given period in seconds.
func SA(period float64) IMT {
	return IMT{name: "SA", period: period}
}

// Parse converts a string such as "PGA", "PGV" or "SA(0.3)" into an IMT.
func Parse(s string) (IMT, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "PGA":
		return PGA(), nil
	case "PGV":
		return PGV(), nil
	}
	m := saRegexp.FindStringSubmatch(s)
	if m == nil {
		return IMT{}, fmt.Errorf("unrecognized intensity measure type %q", s)
	}
	period, err := strconv.ParseFloat(strings.TrimSpace(m[1]), 64)
	if err != nil {
		return IMT{}, fmt.Errorf("invalid spectral period in %q: %w", s, err)
	}
	if period <= 0 {
		return IMT{}, fmt.Errorf("spectral period must be positive, got %g", period)
	}
	return SA(period), nil
}

// ParseList converts a slice of IMT strings, preserving order.
func ParseList(strs []string) ([]IMT, error) {
	imts := make([]IMT, 0, len(strs))
	for _, s := range strs {
		im, err := Parse(s)
		if err != nil {
			return nil, err
		}
		imts = append(imts, im)
	}
	return imts, nil
}

// String renders the IMT in its canonical form, e.g. "SA(0.3)".
func (im IMT) String() string {
	if im.name == "SA" {
		return fmt.Sprintf("SA(%g)", im.period)
	}
	return im.name
}

// IsSpectral reports whether the IMT is a spectral ordinate with a period.
func (im IMT) IsSpectral() bool {
	return im.name == "SA"
}

// Period returns the spectral period in seconds, or zero for scalar IMTs.
func (im IMT) Period() float64 {
	return im.period
}

// IsAcceleration reports whether amplitudes for this IMT are accelerations,
// which are stored in cm/s/s and must be converted to g before use.
func (im IMT) IsAcceleration() bool {
	return im.name == "PGA" || im.name == "SA"
}
