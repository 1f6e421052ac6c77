package downloader

import (
	"context"
	"sync"

	"github.com/tilevault/tilevault/pkg/resource"
)

// Response is the delivered outcome of a fetch.
//
// Resource always carries the payload, whether it came over the wire or,
// after a NotModified revalidation, from the store with refreshed expiry.
type Response struct {
	Resource    *resource.Resource
	NotModified bool
}

// Handle is a completion handle for an in-flight fetch. All concurrent
// requests for the same key share one Handle and receive the same result.
type Handle struct {
	key resource.Key

	once sync.Once
	done chan struct{}
	resp Response
	err  error
}

func newHandle(key resource.Key) *Handle {
	return &Handle{
		key:  key,
		done: make(chan struct{}),
	}
}

// Key returns the resource key this handle resolves.
func (h *Handle) Key() resource.Key {
	return h.key
}

// Done returns a channel closed when the fetch completes, for callers that
// multiplex over several handles.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the fetch completes or ctx is done.
//
// Cancelling ctx abandons delivery to this caller only: the transfer keeps
// running and commits its result to the store normally.
func (h *Handle) Wait(ctx context.Context) (Response, error) {
	select {
	case <-h.done:
		return h.resp, h.err
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// finish publishes the result exactly once. Later calls are ignored.
func (h *Handle) finish(resp Response, err error) {
	h.once.Do(func() {
		h.resp = resp
		h.err = err
		close(h.done)
	})
}
