package partition

import (
	"errors"
	"fmt"
)

var (
	// ErrExists is reported by a Store when the partition being created is
	// already present, typically because a concurrent creator won the race.
	ErrExists = errors.New("partition already exists")

	// ErrNoPartition is reported by an insert when no partition covers a row.
	ErrNoPartition = errors.New("no partition covers row")
)

// ProvisionError is a partition creation failure other than ErrExists.
type ProvisionError struct {
	Partition Partition
	Err       error
}

func (e *ProvisionError) Error() string {
	start, end := e.Partition.Bounds()
	return fmt.Sprintf("provision partition %s [%d, %d): %v", e.Partition.Name(), start, end, e.Err)
}

func (e *ProvisionError) Unwrap() error { return e.Err }
