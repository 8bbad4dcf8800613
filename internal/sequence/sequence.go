// Package sequence hands out sale numbers of the form <prefix>-<YYYYMMDD>-<NNNN>. The
// counter restarts every day and is never reused within a day.
package sequence

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/noah-isme/backend-kasir/internal/domain"
)

// DefaultPrefix is used when no prefix is configured.
const DefaultPrefix = "TRX"

// Format renders a sale number. Counters beyond 9999 widen instead of wrapping.
func Format(prefix string, day time.Time, n int64) string {
	if strings.TrimSpace(prefix) == "" {
		prefix = DefaultPrefix
	}
	return fmt.Sprintf("%s-%s-%04d", prefix, day.Format("20060102"), n)
}

func now(fn func() time.Time) time.Time {
	if fn != nil {
		return fn()
	}
	return time.Now()
}

// Counter is an in-process generator for tests and single-instance development.
type Counter struct {
	Prefix string
	Now    func() time.Time

	mu   sync.Mutex
	day  string
	next int64
}

// Next returns the following sale number.
func (c *Counter) Next(_ context.Context) (string, error) {
	t := now(c.Now)
	day := t.Format("20060102")
	c.mu.Lock()
	defer c.mu.Unlock()
	if day != c.day {
		c.day = day
		c.next = 0
	}
	c.next++
	return Format(c.Prefix, t, c.next), nil
}

func wrap(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrSequenceGeneration, err)
}
