package partition

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Outcome is the successful result of EnsurePartition.
type Outcome uint8

const (
	AlreadyExists Outcome = iota
	Created
)

func (o Outcome) String() string {
	if o == Created {
		return "created"
	}
	return "already_exists"
}

// Provisioner ensures partitions exist, creating them on demand.
//
// Concurrent calls for the same partition are collapsed per partition name,
// and a duplicate-object error from the store is treated as success, so
// separate processes racing on the same month also converge. Unrelated
// partitions never wait on each other.
type Provisioner struct {
	catalog *Catalog
	store   Store

	known  sync.Map // partition name -> struct{}
	flight singleflight.Group

	created atomic.Int64

	// OnCreated, when set, is called once per partition this process created.
	OnCreated func(Partition)

	// Parallelism bounds EnsureRange. Zero means 4.
	Parallelism int
}

// NewProvisioner returns a provisioner writing through store.
func NewProvisioner(store Store) *Provisioner {
	return &Provisioner{catalog: NewCatalog(store), store: store}
}

// Catalog returns the catalog the provisioner consults.
func (p *Provisioner) Catalog() *Catalog { return p.catalog }

// Created returns how many partitions this provisioner has created.
func (p *Provisioner) Created() int64 { return p.created.Load() }

// EnsurePartition makes sure part exists. Errors other than a lost creation
// race are returned as *ProvisionError.
func (p *Provisioner) EnsurePartition(ctx context.Context, part Partition) (Outcome, error) {
	name := part.Name()
	if _, ok := p.known.Load(name); ok {
		return AlreadyExists, nil
	}

	leader := false
	v, err, _ := p.flight.Do(name, func() (any, error) {
		leader = true
		return p.ensure(ctx, part)
	})
	if err != nil {
		return AlreadyExists, err
	}
	out := v.(Outcome)
	if out == Created && !leader {
		out = AlreadyExists
	}
	return out, nil
}

func (p *Provisioner) ensure(ctx context.Context, part Partition) (Outcome, error) {
	name := part.Name()
	ok, err := p.catalog.Exists(ctx, part.Table, name)
	if err != nil {
		return AlreadyExists, &ProvisionError{Partition: part, Err: err}
	}
	if ok {
		p.known.Store(name, struct{}{})
		return AlreadyExists, nil
	}

	if err := p.store.CreatePartition(ctx, part); err != nil {
		if errors.Is(err, ErrExists) {
			p.known.Store(name, struct{}{})
			return AlreadyExists, nil
		}
		return AlreadyExists, &ProvisionError{Partition: part, Err: err}
	}
	p.known.Store(name, struct{}{})
	p.created.Add(1)
	if p.OnCreated != nil {
		p.OnCreated(part)
	}
	return Created, nil
}

// Forget drops part from the existence cache so the next EnsurePartition
// consults the store again.
func (p *Provisioner) Forget(part Partition) { p.known.Delete(part.Name()) }

// EnsureRange ensures every month in [from, to] for table. It does not stop
// at the first failure; all errors are joined.
func (p *Provisioner) EnsureRange(ctx context.Context, table string, from, to YearMonth) ([]Partition, error) {
	parts := make([]Partition, 0)
	for _, m := range Months(from, to) {
		parts = append(parts, m.Of(table))
	}
	return p.ensureAll(ctx, parts)
}

// EnsureAhead ensures the month containing now and the next months months for
// each table.
func (p *Provisioner) EnsureAhead(ctx context.Context, tables []string, now time.Time, months int) ([]Partition, error) {
	from := MonthOf(now)
	to := from.Add(months)
	var parts []Partition
	for _, t := range tables {
		for _, m := range Months(from, to) {
			parts = append(parts, m.Of(t))
		}
	}
	return p.ensureAll(ctx, parts)
}

func (p *Provisioner) ensureAll(ctx context.Context, parts []Partition) ([]Partition, error) {
	limit := p.Parallelism
	if limit <= 0 {
		limit = 4
	}
	var (
		mu      sync.Mutex
		created []Partition
		errs    []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, part := range parts {
		g.Go(func() error {
			out, err := p.EnsurePartition(gctx, part)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
			} else if out == Created {
				created = append(created, part)
			}
			return nil
		})
	}
	_ = g.Wait()
	return created, errors.Join(errs...)
}
