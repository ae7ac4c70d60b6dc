package encoder

import "bytes"

const maxStderrBytes = 8 * 1024 // 8 KB tail of stderr kept for diagnostics

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func newTail() *limitedWriter {
	return &limitedWriter{w: &bytes.Buffer{}, limit: maxStderrBytes}
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		b := lw.w.Bytes()
		kept := append([]byte(nil), b[len(b)-lw.limit:]...)
		lw.w.Reset()
		lw.w.Write(kept)
	}
	return n, nil
}

func (lw *limitedWriter) String() string { return lw.w.String() }

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}
