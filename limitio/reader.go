// Package limitio throttles the download of messages from a remote inbox.
package limitio

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// DefaultBurst is the amount of bytes read at once by a throttled Reader
const DefaultBurst = 4 * 1024

type Reader struct {
	ctx     context.Context
	source  io.Reader
	limiter *rate.Limiter
}

// NewReader returns a reader that implements io.Reader with rate limiting.
// Without a call to SetRateLimit, the reader is not throttled.
func NewReader(ctx context.Context, r io.Reader) *Reader {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Reader{
		ctx:    ctx,
		source: r,
	}
}

// SetRateLimit sets rate limit (bytes/sec) to the reader.
// A rate of zero or less removes the limit.
func (s *Reader) SetRateLimit(bytesPerSec float64, burst int) {
	if bytesPerSec <= 0 {
		s.limiter = nil
		return
	}
	if burst <= 0 {
		burst = DefaultBurst
	}
	s.limiter = rate.NewLimiter(rate.Limit(bytesPerSec), burst)
}

// Read bytes into p. The read is cut to the burst size so the waits stay short.
func (s *Reader) Read(p []byte) (int, error) {
	if s.limiter == nil {
		return s.source.Read(p)
	}
	if len(p) > s.limiter.Burst() {
		p = p[:s.limiter.Burst()]
	}
	n, err := s.source.Read(p)
	if n > 0 {
		if waitErr := s.limiter.WaitN(s.ctx, n); waitErr != nil {
			return n, waitErr
		}
	}
	return n, err
}
