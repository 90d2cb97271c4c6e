package temperature

import "codeberg.org/mutker/modemtemp/internal/errors"

// Select reduces a reading to one value in milli-Celsius
func Select(r Reading, policy Policy) (int, error) {
	errFactory := errors.New()

	var (
		best  int
		found bool
	)

	switch policy {
	case PolicyMax, "":
		for _, s := range r.Channels() {
			if s.Present && (!found || s.Celsius > best) {
				best, found = s.Celsius, true
			}
		}
	case PolicyFirst:
		for _, s := range r.Channels() {
			if s.Present {
				best, found = s.Celsius, true
				break
			}
		}
	default:
		return 0, errFactory.WithData(ErrUnknownSelectionPolicy, policy)
	}

	if !found {
		return 0, errFactory.New(ErrNoData)
	}

	milli := best * 1000
	if milli < HardwareMinMilli || milli > HardwareMaxMilli {
		return 0, errFactory.WithData(ErrSelectionOutOfRange, milli)
	}

	return milli, nil
}
