package partition

import (
	"context"
	"fmt"
	"sort"
)

// Store is the subset of a storage backend the catalog and provisioner use.
//
// CreatePartition must report a duplicate partition with an error wrapping
// ErrExists so concurrent creators can treat it as success.
type Store interface {
	PartitionExists(ctx context.Context, table, name string) (bool, error)
	CreatePartition(ctx context.Context, p Partition) error
	ListPartitions(ctx context.Context, table string) ([]Bounds, error)
}

// Catalog answers questions about existing partitions. It holds no state of
// its own; the store is the single authority on existence.
type Catalog struct {
	store Store
}

// NewCatalog returns a catalog backed by store.
func NewCatalog(store Store) *Catalog { return &Catalog{store: store} }

// Exists reports whether the named partition of table exists.
func (c *Catalog) Exists(ctx context.Context, table, name string) (bool, error) {
	ok, err := c.store.PartitionExists(ctx, table, name)
	if err != nil {
		return false, fmt.Errorf("partition exists %s: %w", name, err)
	}
	return ok, nil
}

// List returns the existing partitions of table sorted by start.
func (c *Catalog) List(ctx context.Context, table string) ([]Bounds, error) {
	bs, err := c.store.ListPartitions(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("list partitions %s: %w", table, err)
	}
	sort.Slice(bs, func(i, j int) bool { return bs[i].StartMs < bs[j].StartMs })
	return bs, nil
}

// Check lists the partitions of table and reports sequence anomalies.
func (c *Catalog) Check(ctx context.Context, table string) ([]Bounds, []Anomaly, error) {
	bs, err := c.List(ctx, table)
	if err != nil {
		return nil, nil, err
	}
	return bs, CheckContiguity(bs), nil
}
