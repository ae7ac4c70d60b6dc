package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shorty/shorty-agent/internal/ffmpeg"
)

// parseClock accepts plain seconds ("90", "12.5") or a clock value
// ("1:30", "00:01:30.250").
func parseClock(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("%q has too many fields", s)
	}

	var total float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("%q is not a time", s)
		}
		if i < len(parts)-1 && v != float64(int(v)) {
			return 0, fmt.Errorf("%q is not a time", s)
		}
		if i > 0 && v >= 60 {
			return 0, fmt.Errorf("%q has a field over 59", s)
		}
		total = total*60 + v
	}
	return total, nil
}

// parseCrop reads "w:h:x:y".
func parseCrop(s string) (*ffmpeg.Crop, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ":")
	if len(parts) != 4 {
		return nil, fmt.Errorf("crop %q must be w:h:x:y", s)
	}
	vals := make([]int, 4)
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("crop %q must be w:h:x:y", s)
		}
		vals[i] = v
	}
	return &ffmpeg.Crop{Width: vals[0], Height: vals[1], X: vals[2], Y: vals[3]}, nil
}
