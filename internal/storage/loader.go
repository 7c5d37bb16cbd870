package storage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// CopyFn inserts one chunk of rows and returns how many were stored.
type CopyFn func(ctx context.Context, rows [][]any) (int64, error)

// LoadChunks splits rows into chunks of at most chunkSize and calls copyFn
// for each, in order. It returns the running total and stops at the first
// error; rows of earlier chunks stay written.
//
// Each successful chunk is logged at debug level with the instantaneous rate.
func LoadChunks(ctx context.Context, log *zap.Logger, rows [][]any, chunkSize int, copyFn CopyFn) (int64, error) {
	if chunkSize <= 0 {
		return 0, fmt.Errorf("chunkSize must be > 0")
	}
	if copyFn == nil {
		return 0, fmt.Errorf("copyFn must not be nil")
	}
	if log == nil {
		log = zap.NewNop()
	}

	var (
		total  int64
		chunks int
		start  = time.Now()
	)
	for lo := 0; lo < len(rows); lo += chunkSize {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		hi := min(lo+chunkSize, len(rows))

		began := time.Now()
		n, err := copyFn(ctx, rows[lo:hi])
		total += n
		if err != nil {
			return total, err
		}
		chunks++

		since := time.Since(began)
		rps := float64(0)
		if since > 0 {
			rps = float64(hi-lo) / since.Seconds()
		}
		log.Debug("loader: chunk stored",
			zap.Int("chunk", chunks),
			zap.Int("rows", hi-lo),
			zap.Int64("stored", n),
			zap.Int64("total_stored", total),
			zap.Float64("rps", rps),
			zap.Duration("elapsed", time.Since(start).Truncate(time.Millisecond)),
		)
	}
	return total, nil
}
