package s3

import (
	"net/http"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/syncqueue"
)

// Pool sizing defaults, process-wide.
const (
	DefaultNumBatches = 16
	DefaultBatchSize  = 64

	// defaultSlotTimeout bounds how long a request waits for a free
	// slot in its batch before failing Unavailable.
	defaultSlotTimeout = 60 * time.Second
)

// Batch is one reusable bundle of HTTP connections: a shared transport
// plus a fixed number of request slots.  A client holds one batch for
// its lifetime; individual requests borrow slots.
type Batch struct {
	client *http.Client
	slots  chan struct{}

	slotTimeout time.Duration
}

// acquireSlot blocks until a request slot frees up, or fails
// Unavailable after the batch's deadline.
func (b *Batch) acquireSlot() error {
	select {
	case <-b.slots:
		return nil
	case <-time.After(b.slotTimeout):
		return errors.E(errors.Unavailable, "s3: no free request slot in batch")
	}
}

func (b *Batch) releaseSlot() {
	b.slots <- struct{}{}
}

// do runs one request within a slot and drains the response.
func (b *Batch) do(req *http.Request) (Response, error) {
	if err := b.acquireSlot(); err != nil {
		return Response{}, err
	}
	defer b.releaseSlot()
	return roundTrip(b.client, req)
}

// BatchPool is a process-wide pool of batches.  Acquire blocks until a
// batch frees up; the pool never grows.
type BatchPool struct {
	queue      *syncqueue.LIFO
	numBatches int
	batchSize  int
}

// NewBatchPool builds numBatches batches of batchSize slots each.
// Nonpositive arguments select the defaults.
func NewBatchPool(numBatches, batchSize int) *BatchPool {
	if numBatches <= 0 {
		numBatches = DefaultNumBatches
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	p := &BatchPool{queue: syncqueue.NewLIFO(), numBatches: numBatches, batchSize: batchSize}
	for i := 0; i < numBatches; i++ {
		b := &Batch{
			client: &http.Client{
				Transport: &http.Transport{
					MaxIdleConnsPerHost: batchSize,
				},
			},
			slots:       make(chan struct{}, batchSize),
			slotTimeout: defaultSlotTimeout,
		}
		for j := 0; j < batchSize; j++ {
			b.slots <- struct{}{}
		}
		p.queue.Put(b)
	}
	return p
}

// Acquire checks a batch out of the pool, blocking until one is
// available.
func (p *BatchPool) Acquire() *Batch {
	v, ok := p.queue.Get()
	if !ok {
		// Get fails only after Close; the pool is never closed.
		panic("s3: batch pool closed")
	}
	return v.(*Batch)
}

// Release returns a batch to the pool.
func (p *BatchPool) Release(b *Batch) {
	p.queue.Put(b)
}
