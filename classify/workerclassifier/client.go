// Package workerclassifier delegates window classification to an external
// worker process.  Requests and responses are msgpack maps framed with a
// 4 byte big endian length prefix, written to the worker's stdin and read
// from its stdout.  Responses may arrive in any order, they are matched to
// requests by ID.
package workerclassifier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"

	"github.com/swdee/go-posturecoach/classify"
	"github.com/swdee/go-posturecoach/window"
)

var (
	// ErrClosed is returned once the worker stream has ended
	ErrClosed = errors.New("classifier worker closed")
	// ErrWorker wraps an error reported by the worker
	ErrWorker = errors.New("classifier worker error")
)

// Client is a Classifier speaking the worker protocol over a stream pair.
// It is safe for concurrent use.
type Client struct {
	w   io.Writer
	r   io.Reader
	log *log.Logger

	// wmu serialises writes so frames never interleave
	wmu sync.Mutex

	mu      sync.Mutex
	pending map[uint64]chan Response
	err     error

	nextID   atomic.Uint64
	done     chan struct{}
	unknown  atomic.Uint64
	complete atomic.Uint64
}

// NewClient starts reading responses from r.  Requests are written to w.
func NewClient(w io.Writer, r io.Reader, logger *log.Logger) *Client {

	if logger == nil {
		logger = log.Default()
	}

	c := &Client{
		w:       w,
		r:       r,
		log:     logger,
		pending: make(map[uint64]chan Response),
		done:    make(chan struct{}),
	}

	go c.readLoop()

	return c
}

// Classify sends the snapshot to the worker and waits for its answer
func (c *Client) Classify(ctx context.Context, snap window.Snapshot) (classify.Result, error) {

	id := c.nextID.Add(1)
	reply := make(chan Response, 1)

	c.mu.Lock()

	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return classify.Result{}, err
	}

	c.pending[id] = reply
	c.mu.Unlock()

	defer c.forget(id)

	req := Request{
		ID:     id,
		Seq:    snap.Seq(),
		Shape:  snap.TensorShape(),
		Tensor: snap.Tensor(),
	}

	c.wmu.Lock()
	err := writeMessage(c.w, req)
	c.wmu.Unlock()

	if err != nil {
		return classify.Result{}, err
	}

	select {
	case resp, ok := <-reply:
		if !ok {
			return classify.Result{}, c.closeErr()
		}

		if resp.Error != "" {
			return classify.Result{}, fmt.Errorf("%w: %s", ErrWorker, resp.Error)
		}

		return classify.NewResult(resp.Probabilities), nil

	case <-ctx.Done():
		return classify.Result{}, ctx.Err()
	}
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) closeErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// readLoop routes responses to their waiting request until the stream ends
func (c *Client) readLoop() {

	defer close(c.done)

	for {
		var resp Response

		err := readMessage(c.r, &resp)

		if errors.Is(err, errMalformed) {
			c.log.Printf("classifier worker sent an unreadable response: %v", err)
			continue
		}

		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.log.Printf("classifier worker stream failed: %v", err)
			}

			c.fail(err)
			return
		}

		c.mu.Lock()
		reply, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.mu.Unlock()

		if !ok {
			// the request timed out or was cancelled
			c.unknown.Add(1)
			continue
		}

		c.complete.Add(1)
		reply <- resp
	}
}

// fail ends every waiting request
func (c *Client) fail(cause error) {

	c.mu.Lock()
	defer c.mu.Unlock()

	if errors.Is(cause, io.EOF) {
		c.err = ErrClosed
	} else {
		c.err = fmt.Errorf("%w: %v", ErrClosed, cause)
	}

	for id, reply := range c.pending {
		close(reply)
		delete(c.pending, id)
	}
}

// Done is closed once the response stream has ended
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Stats is a snapshot of client counters
type Stats struct {
	// Completed is the number of responses matched to a waiting request
	Completed uint64
	// Orphaned is the number of responses that arrived after their request
	// gave up
	Orphaned uint64
}

// Stats returns the client counters
func (c *Client) Stats() Stats {
	return Stats{
		Completed: c.complete.Load(),
		Orphaned:  c.unknown.Load(),
	}
}
