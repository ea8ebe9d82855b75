package database

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout reports that a store call exceeded its budget. Callers may retry.
var ErrTimeout = errors.New("store timeout")

// Bounded derives a context that expires after d. A non-positive d leaves ctx unbounded.
func Bounded(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// Timeout rewrites deadline errors as ErrTimeout and passes everything else through.
func Timeout(err error) error {
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
