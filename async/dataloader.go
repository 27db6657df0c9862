// Package async assembles training batches on background workers.
package async

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/multigan/dataset"
)

// ErrNotStarted is returned by Next before the first Reset.
var ErrNotStarted = errors.New("data loader has no active epoch; call Reset first")

// Batch is one minibatch of samples, one per row.
type Batch struct {
	Data    *mat.Dense
	Indices []int  // dataset indices, in row order
	BatchID uint64 // position within the epoch
	Epoch   int
}

// Size returns the number of samples in the batch.
func (b *Batch) Size() int { return len(b.Indices) }

// AsyncDataLoaderConfig holds configuration for the data loader
type AsyncDataLoaderConfig struct {
	BatchSize     int  // Size of each batch
	PrefetchDepth int  // Number of batches to prefetch (default: 3)
	Workers       int  // Number of background workers (default: 2)
	Shuffle       bool // Permute sample order every epoch
	DropLast      bool // Drop the final partial batch
	Seed          uint64
}

// AsyncDataLoader delivers batches in a fixed order while workers build the
// following ones in the background. The order of epoch e depends only on
// (Seed, e), so a resumed run sees the same batches as an uninterrupted one.
type AsyncDataLoader struct {
	dataSource dataset.Dataset
	config     AsyncDataLoaderConfig

	mutex    sync.Mutex
	pipeline *pipeline

	batchCounter atomic.Uint64
}

type batchResult struct {
	batch *Batch
	err   error
}

type job struct {
	id      uint64
	indices []int
	result  chan batchResult
}

// pipeline is the producer side of a single epoch.
type pipeline struct {
	epoch   int
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	jobs    chan job
	ordered chan chan batchResult
	pending chan batchResult // result slot taken by an interrupted Next
}

// NewAsyncDataLoader creates a new asynchronous data loader
func NewAsyncDataLoader(dataSource dataset.Dataset, config AsyncDataLoaderConfig) (*AsyncDataLoader, error) {
	if dataSource == nil {
		return nil, fmt.Errorf("data source cannot be nil")
	}
	if config.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", config.BatchSize)
	}
	if dataSource.Len() == 0 {
		return nil, fmt.Errorf("data source is empty")
	}

	// Set defaults
	if config.PrefetchDepth <= 0 {
		config.PrefetchDepth = 3
	}
	if config.Workers <= 0 {
		config.Workers = 2
	}

	return &AsyncDataLoader{dataSource: dataSource, config: config}, nil
}

// Dataset returns the underlying sample source.
func (adl *AsyncDataLoader) Dataset() dataset.Dataset { return adl.dataSource }

// NumBatches returns the number of batches in one epoch.
func (adl *AsyncDataLoader) NumBatches() int {
	n, bs := adl.dataSource.Len(), adl.config.BatchSize
	if adl.config.DropLast {
		return n / bs
	}
	return (n + bs - 1) / bs
}

// Order returns the sample order used for epoch.
func (adl *AsyncDataLoader) Order(epoch int) []int {
	n := adl.dataSource.Len()
	if !adl.config.Shuffle {
		order := make([]int, n)
		for i := range order {
			order[i] = i
		}
		return order
	}
	rng := rand.New(rand.NewPCG(adl.config.Seed, uint64(epoch)))
	return rng.Perm(n)
}

// Reset stops any running epoch and starts producing batches for epoch.
func (adl *AsyncDataLoader) Reset(epoch int) error {
	adl.mutex.Lock()
	defer adl.mutex.Unlock()

	adl.stopLocked()

	order := adl.Order(epoch)
	ctx, cancel := context.WithCancel(context.Background())
	p := &pipeline{
		epoch:   epoch,
		ctx:     ctx,
		cancel:  cancel,
		jobs:    make(chan job),
		ordered: make(chan chan batchResult, adl.config.PrefetchDepth),
	}

	// Start worker goroutines
	for i := 0; i < adl.config.Workers; i++ {
		p.wg.Add(1)
		go adl.worker(p, i)
	}
	p.wg.Add(1)
	go adl.dispatch(p, order)

	adl.pipeline = p
	return nil
}

// Stop stops the async data loading pipeline
func (adl *AsyncDataLoader) Stop() error {
	adl.mutex.Lock()
	defer adl.mutex.Unlock()
	adl.stopLocked()
	return nil
}

func (adl *AsyncDataLoader) stopLocked() {
	if adl.pipeline == nil {
		return
	}
	adl.pipeline.cancel()
	adl.pipeline.wg.Wait()
	adl.pipeline = nil
}

// Next returns the next batch of the current epoch, or io.EOF once the epoch
// is exhausted. Cancelling ctx abandons the wait without losing the batch.
// Next is meant for a single consumer.
func (adl *AsyncDataLoader) Next(ctx context.Context) (*Batch, error) {
	adl.mutex.Lock()
	p := adl.pipeline
	adl.mutex.Unlock()
	if p == nil {
		return nil, ErrNotStarted
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	slot := p.pending
	if slot == nil {
		select {
		case s, ok := <-p.ordered:
			if !ok {
				return nil, io.EOF
			}
			slot = s
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	select {
	case r := <-slot:
		p.pending = nil
		return r.batch, r.err
	case <-ctx.Done():
		p.pending = slot
		return nil, ctx.Err()
	}
}

// dispatch hands out jobs in batch order. The ordered channel bounds how far
// ahead of the consumer the workers may run.
func (adl *AsyncDataLoader) dispatch(p *pipeline, order []int) {
	defer p.wg.Done()
	defer close(p.ordered)
	defer close(p.jobs)

	bs := adl.config.BatchSize
	nBatches := adl.NumBatches()
	for b := 0; b < nBatches; b++ {
		end := min((b+1)*bs, len(order))
		j := job{id: uint64(b), indices: order[b*bs : end], result: make(chan batchResult, 1)}

		select {
		case p.ordered <- j.result:
		case <-p.ctx.Done():
			return
		}
		select {
		case p.jobs <- j:
		case <-p.ctx.Done():
			return
		}
	}
}

// worker runs in background to load and prepare batches
func (adl *AsyncDataLoader) worker(p *pipeline, workerID int) {
	defer p.wg.Done()

	for j := range p.jobs {
		batch, err := adl.prepareBatch(p.epoch, j)
		if err != nil {
			err = fmt.Errorf("worker %d: %w", workerID, err)
		}
		j.result <- batchResult{batch: batch, err: err}
	}
}

// prepareBatch copies the samples of one job into a matrix.
func (adl *AsyncDataLoader) prepareBatch(epoch int, j job) (*Batch, error) {
	dim := adl.dataSource.Dim()
	data := mat.NewDense(len(j.indices), dim, nil)
	for row, idx := range j.indices {
		sample, err := adl.dataSource.Get(idx)
		if err != nil {
			return nil, fmt.Errorf("failed to get sample %d: %w", idx, err)
		}
		if len(sample) != dim {
			return nil, fmt.Errorf("sample %d has length %d, expected %d", idx, len(sample), dim)
		}
		data.SetRow(row, sample)
	}
	adl.batchCounter.Add(1)

	return &Batch{
		Data:    data,
		Indices: append([]int(nil), j.indices...),
		BatchID: j.id,
		Epoch:   epoch,
	}, nil
}

// Stats returns statistics about the data loader
func (adl *AsyncDataLoader) Stats() AsyncDataLoaderStats {
	adl.mutex.Lock()
	defer adl.mutex.Unlock()

	stats := AsyncDataLoaderStats{
		BatchesProduced: adl.batchCounter.Load(),
		QueueCapacity:   adl.config.PrefetchDepth,
		Workers:         adl.config.Workers,
		Epoch:           -1,
	}
	if adl.pipeline != nil {
		stats.IsRunning = true
		stats.QueuedBatches = len(adl.pipeline.ordered)
		stats.Epoch = adl.pipeline.epoch
	}
	return stats
}

// AsyncDataLoaderStats provides statistics about the data loader
type AsyncDataLoaderStats struct {
	IsRunning       bool
	BatchesProduced uint64
	QueuedBatches   int
	QueueCapacity   int
	Workers         int
	Epoch           int
}
