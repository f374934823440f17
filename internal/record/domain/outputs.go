package domain

import (
	"math"
	"sort"
	"strconv"
)

// Devices returns the device names in sorted order.
func (o Outputs) Devices() []string {
	return sortedKeys(o)
}

// Validate rejects NaN and infinite readings.
func (o Outputs) Validate() error {
	for _, v := range o {
		if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0)) {
			return ErrInvalidOutputValue
		}
	}
	return nil
}

// Energy sums non-null, non-negative readings. With a device name only that
// device contributes.
func (o Outputs) Energy(device string) float64 {
	if device != "" {
		if v := o[device]; v != nil && *v >= 0 {
			return *v
		}
		return 0
	}
	total := 0.0
	for _, k := range sortedKeys(o) {
		if v := o[k]; v != nil && *v >= 0 {
			total += *v
		}
	}
	return total
}

func sortedKeys(o Outputs) []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
