package gmdata

import "fmt"

// Standard gravity in cm/s/s.
const gravityCMS2 = 980.665

// ConvertAccelUnits converts acceleration amplitudes between "cm/s/s" and
// "g", returning a new slice. The input is never mutated.
func ConvertAccelUnits(values []float64, from, to string) ([]float64, error) {
	factor, err := accelFactor(from, to)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = v * factor
	}
	return out, nil
}

func accelFactor(from, to string) (float64, error) {
	switch {
	case from == to:
		return 1.0, nil
	case from == "cm/s/s" && to == "g":
		return 1.0 / gravityCMS2, nil
	case from == "g" && to == "cm/s/s":
		return gravityCMS2, nil
	}
	return 0, fmt.Errorf("unsupported acceleration unit conversion %q to %q", from, to)
}
