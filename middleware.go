package sqlq

import (
	"sync"
)

// QueryRequest is the record flowing through the before-query hook: the
// template as given by the caller and its value mapping. A stage returns the
// request the next stage (and finally the formatter) will see.
type QueryRequest struct {
	SQL    string
	Values map[string]any
}

// BeforeQueryFunc runs before formatting and may rewrite the template or the
// bound values. Returning an error aborts the query.
type BeforeQueryFunc func(req QueryRequest) (QueryRequest, error)

// OnResultsFunc runs after a successful execution and may replace the result.
// It receives the request as it entered the formatter.
type OnResultsFunc func(req QueryRequest, res *Result) (*Result, error)

// pipeline holds the two middleware chains. Registration appends; invocation
// folds left-to-right in registration order. The lock makes registering
// concurrently with in-flight queries safe.
type pipeline struct {
	mu          sync.RWMutex
	beforeQuery []BeforeQueryFunc
	onResults   []OnResultsFunc
}

// OnBeforeQuery appends fn to the before-query chain.
// A nil fn returns ErrNilMiddleware.
func (d *DB) OnBeforeQuery(fn BeforeQueryFunc) error {
	if fn == nil {
		return ErrNilMiddleware
	}
	d.mw.mu.Lock()
	d.mw.beforeQuery = append(d.mw.beforeQuery, fn)
	d.mw.mu.Unlock()
	return nil
}

// OnResults appends fn to the on-results chain.
// A nil fn returns ErrNilMiddleware.
func (d *DB) OnResults(fn OnResultsFunc) error {
	if fn == nil {
		return ErrNilMiddleware
	}
	d.mw.mu.Lock()
	d.mw.onResults = append(d.mw.onResults, fn)
	d.mw.mu.Unlock()
	return nil
}

// applyBeforeQuery threads req through the before-query chain.
func (p *pipeline) applyBeforeQuery(req QueryRequest) (QueryRequest, error) {
	p.mu.RLock()
	chain := p.beforeQuery
	p.mu.RUnlock()

	var err error
	for _, fn := range chain {
		if req, err = fn(req); err != nil {
			return req, err
		}
	}
	return req, nil
}

// applyOnResults threads res through the on-results chain.
func (p *pipeline) applyOnResults(req QueryRequest, res *Result) (*Result, error) {
	p.mu.RLock()
	chain := p.onResults
	p.mu.RUnlock()

	var err error
	for _, fn := range chain {
		if res, err = fn(req, res); err != nil {
			return res, err
		}
	}
	return res, nil
}
