package npu

import (
	"context"
	"errors"
	"sync"
)

// ErrPoolClosed is returned by Get once the pool is closed
var ErrPoolClosed = errors.New("runtime pool closed")

// Pool holds several runtimes of the same model spread across the NPU cores
// so overlapping windows can be classified in parallel
type Pool struct {
	runtimes chan *Runtime
	size     int
	closed   chan struct{}
	close    sync.Once
}

// NewPool loads size runtimes of the model, assigning cores round robin
// from the given list
func NewPool(size int, modelFile string, cores []CoreMask) (*Pool, error) {

	if size < 1 {
		size = 1
	}

	if len(cores) == 0 {
		cores = []CoreMask{CoreAuto}
	}

	p := &Pool{
		runtimes: make(chan *Runtime, size),
		size:     size,
		closed:   make(chan struct{}),
	}

	for i := 0; i < size; i++ {
		rt, err := NewRuntime(modelFile, cores[i%len(cores)])

		if err != nil {
			p.Close()
			return nil, err
		}

		p.runtimes <- rt
	}

	return p, nil
}

// Size returns the number of runtimes in the pool
func (p *Pool) Size() int {
	return p.size
}

// Get takes a runtime from the pool, waiting until one is free or ctx ends
func (p *Pool) Get(ctx context.Context) (*Runtime, error) {

	select {
	case <-p.closed:
		return nil, ErrPoolClosed
	default:
	}

	select {
	case rt := <-p.runtimes:
		return rt, nil
	case <-p.closed:
		return nil, ErrPoolClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Put returns a runtime to the pool
func (p *Pool) Put(rt *Runtime) {

	select {
	case <-p.closed:
		rt.Close()
		return
	default:
	}

	select {
	case p.runtimes <- rt:
	default:
		// not one of ours
		rt.Close()
	}
}

// Attrs returns the tensor attributes shared by every runtime in the pool
func (p *Pool) Attrs(ctx context.Context) (inputs, outputs []TensorAttr, err error) {

	rt, err := p.Get(ctx)

	if err != nil {
		return nil, nil, err
	}

	defer p.Put(rt)

	return rt.InputAttrs(), rt.OutputAttrs(), nil
}

// Close unloads every idle runtime, runtimes still in use are closed when
// they are returned
func (p *Pool) Close() {
	p.close.Do(func() {
		close(p.closed)

		for {
			select {
			case rt := <-p.runtimes:
				rt.Close()
			default:
				return
			}
		}
	})
}
