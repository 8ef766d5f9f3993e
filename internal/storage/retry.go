package storage

import (
	"context"
	"fmt"
	"time"
)

// Retry 以固定间隔最多执行 attempts 次 fn，返回最后一次错误。
// attempt 从 1 开始计数。
func Retry(ctx context.Context, attempts int, backoff time.Duration, fn func(attempt int) error) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for i := 1; i <= attempts; i++ {
		if err = fn(i); err == nil {
			return nil
		}
		if i == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", attempts, err)
}
