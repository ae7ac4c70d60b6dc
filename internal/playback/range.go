package playback

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	errMalformedRange    = errors.New("malformed range header")
	errRangeNotSatisfied = errors.New("range not satisfiable")
)

// span is an inclusive byte interval of an output file.
type span struct {
	first, last int64
}

func (s span) length() int64 { return s.last - s.first + 1 }

func (s span) header(size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", s.first, s.last, size)
}

// parseSpan reads a Range header against a file of size bytes. ok is false
// when the header is absent or malformed, in which case the whole file is
// served. Only the first range of a multi-range request is honoured.
func parseSpan(header string, size int64) (s span, ok bool, err error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return span{}, false, nil
	}
	ranges, found := strings.CutPrefix(header, "bytes=")
	if !found {
		return span{}, false, errMalformedRange
	}
	if first, _, multi := strings.Cut(ranges, ","); multi {
		ranges = first
	}
	from, to, found := strings.Cut(strings.TrimSpace(ranges), "-")
	if !found {
		return span{}, false, errMalformedRange
	}

	if from == "" {
		n, err := strconv.ParseInt(to, 10, 64)
		if err != nil || n <= 0 {
			return span{}, false, errMalformedRange
		}
		if size == 0 {
			return span{}, false, errRangeNotSatisfied
		}
		return span{first: max(size-n, 0), last: size - 1}, true, nil
	}

	s.first, err = strconv.ParseInt(from, 10, 64)
	if err != nil || s.first < 0 {
		return span{}, false, errMalformedRange
	}
	s.last = size - 1
	if to != "" {
		if s.last, err = strconv.ParseInt(to, 10, 64); err != nil {
			return span{}, false, errMalformedRange
		}
	}
	if s.first >= size || s.first > s.last {
		return span{}, false, errRangeNotSatisfied
	}
	s.last = min(s.last, size-1)
	return s, true, nil
}
