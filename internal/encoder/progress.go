package encoder

import (
	"bytes"
	"regexp"
	"strconv"
)

var timeMarker = regexp.MustCompile(`time=(\d{2,}):(\d{2}):(\d{2})(?:\.\d+)?`)

// ParseElapsed extracts the whole seconds from a "time=HH:MM:SS.ff" marker.
func ParseElapsed(line string) (int, bool) {
	m := timeMarker.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	h, _ := strconv.Atoi(m[1])
	mins, _ := strconv.Atoi(m[2])
	sec, _ := strconv.Atoi(m[3])
	return h*3600 + mins*60 + sec, true
}

// ProgressMapper scales elapsed time within one pass into the pass's slice of
// the whole run.
type ProgressMapper struct {
	PassIndex       int
	PassCount       int
	ExpectedSeconds float64
}

func NewProgressMapper(req RunRequest) ProgressMapper {
	return ProgressMapper{
		PassIndex:       req.PassIndex,
		PassCount:       req.PassCount,
		ExpectedSeconds: req.ExpectedDurationSeconds,
	}
}

// Window returns the start and width of this pass in percent.
func (m ProgressMapper) Window() (start, width float64) {
	width = 100 / float64(m.PassCount)
	start = float64(m.PassIndex-1) * width
	return start, width
}

// Percent maps elapsed seconds to an overall percentage. It stays strictly
// below the end of the pass window and reports false when the expected
// duration is unknown.
func (m ProgressMapper) Percent(elapsed int) (float64, bool) {
	if m.ExpectedSeconds <= 0 || m.PassCount < 1 {
		return 0, false
	}
	start, width := m.Window()
	pct := start + float64(elapsed)*width/m.ExpectedSeconds
	if ceiling := start + width - 0.1; pct > ceiling {
		pct = ceiling
	}
	if pct < start {
		pct = start
	}
	return pct, true
}

// scanStatusLines is a bufio.SplitFunc that breaks on either '\n' or '\r'.
// ffmpeg redraws its status line with bare carriage returns.
func scanStatusLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
