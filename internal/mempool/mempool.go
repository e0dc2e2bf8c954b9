// Package mempool implements the fixed-size page pool that backs
// CacheStore's dirty write extents, per spec.md §2/§4.4/§5: a bounded set
// of uniformly sized pages, blocking acquisition when exhausted (until a
// flush returns pages or the context ends), and explicit release back to
// the pool.
package mempool

import "context"

// DefaultPageSize matches spec.md §4.4's large-write bypass threshold (one
// block): writes that size or larger go straight to FileStore instead of
// being staged through pages.
const DefaultPageSize = 128 * 1024

// DefaultPoolBytes is MemPool's default total size (spec.md §5).
const DefaultPoolBytes = 256 << 20

// Page is one fixed-size buffer on loan from a Pool.
type Page struct {
	buf []byte
}

// Bytes returns the page's backing buffer. Callers must not retain it past
// the corresponding Put.
func (p *Page) Bytes() []byte { return p.buf }

// Pool is a fixed-size pool of uniform pages. Acquisition blocks when the
// pool is exhausted until a page is returned or the context is canceled.
type Pool struct {
	pageSize int
	free     chan *Page
}

// New returns a Pool sized to hold poolBytes worth of pageSize pages.
// poolBytes is rounded up to a whole number of pages.
func New(poolBytes, pageSize int) *Pool {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	n := (poolBytes + pageSize - 1) / pageSize
	if n < 1 {
		n = 1
	}

	p := &Pool{
		pageSize: pageSize,
		free:     make(chan *Page, n),
	}
	for i := 0; i < n; i++ {
		p.free <- &Page{buf: make([]byte, pageSize)}
	}
	return p
}

// PageSize returns the fixed size of every page in the pool.
func (p *Pool) PageSize() int { return p.pageSize }

// Capacity returns the total number of pages the pool was built with.
func (p *Pool) Capacity() int { return cap(p.free) }

// Get blocks until a page is available or ctx is done.
func (p *Pool) Get(ctx context.Context) (*Page, error) {
	select {
	case page := <-p.free:
		clear(page.buf)
		return page, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryGet returns a page without blocking, or ok=false if none is free.
func (p *Pool) TryGet() (page *Page, ok bool) {
	select {
	case page := <-p.free:
		clear(page.buf)
		return page, true
	default:
		return nil, false
	}
}

// Put returns page to the pool. It must have come from this Pool.
func (p *Pool) Put(page *Page) {
	p.free <- page
}

func clear(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
