package emotion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Errors returned by [Pool.Analyze].
var (
	// ErrPoolClosed reports a request against a stopped pool.
	ErrPoolClosed = errors.New("emotion: pool closed")

	// ErrTimeout reports that a classification missed its deadline. The
	// worker still finishes the computation; only the caller stops waiting.
	ErrTimeout = errors.New("emotion: classification timed out")
)

// PoolConfig holds tuning knobs for a [Pool].
type PoolConfig struct {
	// Workers is the number of classifier goroutines. Default: 4.
	Workers int

	// Timeout bounds one classification as observed by the caller.
	// Default: 2s.
	Timeout time.Duration

	// QueueSize bounds the pending-request queue. Default: 64.
	QueueSize int
}

func (c *PoolConfig) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
}

type poolRequest struct {
	text  string
	reply chan poolReply
}

type poolReply struct {
	result Result
	err    error
}

// Pool runs a [Classifier] on a fixed set of worker goroutines. Analyze is
// safe for concurrent use; requests beyond the queue capacity block until a
// slot frees or the caller's deadline passes.
type Pool struct {
	classifier Classifier
	cfg        PoolConfig

	requests chan poolRequest
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPool creates a Pool over classifier and starts its workers.
func NewPool(classifier Classifier, cfg PoolConfig) *Pool {
	cfg.applyDefaults()
	p := &Pool{
		classifier: classifier,
		cfg:        cfg,
		requests:   make(chan poolRequest, cfg.QueueSize),
		done:       make(chan struct{}),
	}
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Analyze classifies text, waiting at most the configured timeout (or the
// context deadline, whichever is sooner).
func (p *Pool) Analyze(ctx context.Context, text string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req := poolRequest{text: text, reply: make(chan poolReply, 1)}

	select {
	case <-p.done:
		return Result{}, ErrPoolClosed
	case <-ctx.Done():
		return Result{}, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
	case p.requests <- req:
	}

	select {
	case <-ctx.Done():
		return Result{}, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
	case reply := <-req.reply:
		return reply.result, reply.err
	}
}

// Stop shuts the pool down and waits for in-flight classifications.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.done) })
	p.wg.Wait()
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.done:
			return
		case req := <-p.requests:
			scores, err := p.classifier.Classify(req.text)
			if err != nil {
				slog.Debug("emotion classification failed", "error", err)
				req.reply <- poolReply{err: err}
				continue
			}
			req.reply <- poolReply{result: Result{
				Scores:   scores,
				Dominant: scores.Dominant(3),
			}}
		}
	}
}
