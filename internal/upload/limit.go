package upload

import "io"

// limitReader passes through at most limit bytes and remembers whether the
// source had more.
type limitReader struct {
	r         io.Reader
	remaining int64
	exceeded  bool
}

func newLimitReader(r io.Reader, limit int64) *limitReader {
	return &limitReader{r: r, remaining: limit}
}

func (l *limitReader) Read(p []byte) (int, error) {
	if l.remaining <= 0 {
		var probe [1]byte
		n, err := l.r.Read(probe[:])
		if n > 0 {
			l.exceeded = true
			return 0, ErrUploadTooLarge
		}
		return 0, err
	}
	if int64(len(p)) > l.remaining {
		p = p[:l.remaining]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	return n, err
}
