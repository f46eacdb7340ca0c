package vocab

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kotoba-ai/kotoba/pkg/Logger"
)

// minFragmentLen: fragments shorter than this carry nothing worth studying.
const minFragmentLen = 3

// fragment is one finalized transcript queued for analysis.
type fragment struct {
	turnID uuid.UUID
	text   string
}

// Result is one completed analysis delivered back to the orchestrator's
// store writer. TurnFor maps each candidate index to the turn it came from
// so coalesced batches still attribute provenance correctly.
type Result struct {
	Candidates []Candidate
	TurnFor    []uuid.UUID
	Err        error
}

// Pool runs analyses with bounded concurrency. When every worker is busy,
// newly finalized fragments queue up and the next free worker takes the
// whole backlog in a single coalesced call, so a fast talker bounds call
// volume instead of growing the queue or dropping study data.
type Pool struct {
	analyzer Analyzer
	logger   *Logger.Logger

	timeout      time.Duration
	contextTurns int

	sem     chan struct{}
	results chan Result
	done    chan struct{}

	mu      sync.Mutex
	pending []fragment
	seen    map[string]bool
	history []string
	closed  bool
	wg      sync.WaitGroup
}

// PoolConfig bounds the analysis lane.
type PoolConfig struct {
	MaxConcurrent  int
	RequestTimeout time.Duration
	ContextTurns   int
}

func NewPool(analyzer Analyzer, cfg PoolConfig, logger *Logger.Logger) *Pool {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 2
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.ContextTurns <= 0 {
		cfg.ContextTurns = 4
	}
	return &Pool{
		analyzer:     analyzer,
		logger:       logger,
		timeout:      cfg.RequestTimeout,
		contextTurns: cfg.ContextTurns,
		sem:          make(chan struct{}, cfg.MaxConcurrent),
		results:      make(chan Result, 16),
		done:         make(chan struct{}),
		seen:         make(map[string]bool),
	}
}

// Results delivers completed analyses. Consumed by a single store-writer
// goroutine; closed by Close.
func (p *Pool) Results() <-chan Result { return p.results }

// NoteContext records a transcript in the rolling context window without
// queueing it for analysis.
func (p *Pool) NoteContext(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	p.mu.Lock()
	p.pushHistory(text)
	p.mu.Unlock()
}

// Submit queues a finalized transcript for analysis and returns
// immediately. Repeats of an already-analyzed fragment and fragments too
// short to matter are skipped.
func (p *Pool) Submit(turnID uuid.UUID, text string) {
	text = strings.TrimSpace(text)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	if len([]rune(text)) < minFragmentLen || p.seen[text] {
		p.mu.Unlock()
		return
	}
	p.seen[text] = true
	p.pending = append(p.pending, fragment{turnID: turnID, text: text})
	p.pushHistory(text)
	p.mu.Unlock()

	select {
	case p.sem <- struct{}{}:
		p.wg.Add(1)
		go p.run()
	default:
		// all workers busy; the backlog is coalesced into the next
		// worker's call
	}
}

// run drains the pending queue, one coalesced batch per iteration. The
// worker slot is released under the same lock that guards the backlog, so
// a Submit racing the exit either sees a free slot or a worker that will
// see its fragment.
func (p *Pool) run() {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		if p.closed || len(p.pending) == 0 {
			<-p.sem
			p.mu.Unlock()
			return
		}
		batch := p.pending
		p.pending = nil
		ctxWindow := p.contextWindow(batch)
		p.mu.Unlock()

		p.analyzeBatch(batch, ctxWindow)
	}
}

func (p *Pool) analyzeBatch(batch []fragment, ctxWindow []string) {
	texts := make([]string, len(batch))
	for i, f := range batch {
		texts[i] = f.text
	}
	combined := strings.Join(texts, "\n")
	if len(batch) > 1 {
		p.logger.Debugf("Coalescing %d fragments into one analysis call", len(batch))
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	candidates, err := p.analyzer.Analyze(ctx, combined, ctxWindow)
	cancel()

	result := Result{Err: err}
	if err == nil {
		result.Candidates = candidates
		result.TurnFor = make([]uuid.UUID, len(candidates))
		for i, c := range candidates {
			result.TurnFor[i] = attributeTurn(batch, c.Surface)
		}
	}

	select {
	case p.results <- result:
	case <-p.done:
	}
}

// attributeTurn finds which batched fragment mentions the surface form.
// Falls back to the batch's last turn when the model returned a base form
// not literally present in any fragment.
func attributeTurn(batch []fragment, surface string) uuid.UUID {
	for _, f := range batch {
		if strings.Contains(f.text, surface) {
			return f.turnID
		}
	}
	return batch[len(batch)-1].turnID
}

// contextWindow returns the most recent prior transcripts, excluding the
// batch's own fragments. Membership is matched by text, not by position,
// so a transcript recorded between Submit and worker pickup still counts
// as context.
func (p *Pool) contextWindow(batch []fragment) []string {
	inBatch := make(map[string]bool, len(batch))
	for _, f := range batch {
		inBatch[f.text] = true
	}

	var out []string
	for i := len(p.history) - 1; i >= 0 && len(out) < p.contextTurns; i-- {
		if inBatch[p.history[i]] {
			continue
		}
		out = append(out, p.history[i])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func (p *Pool) pushHistory(text string) {
	p.history = append(p.history, text)
	// keep a small multiple of the window; the exact bound is not
	// important, only that it does not grow with session length
	if max := p.contextTurns * 4; len(p.history) > max {
		p.history = p.history[len(p.history)-max:]
	}
}

// Reset clears the dedup set, backlog, and context window for a fresh
// session. In-flight calls finish but their batches were captured before
// the reset.
func (p *Pool) Reset() {
	p.mu.Lock()
	p.pending = nil
	p.seen = make(map[string]bool)
	p.history = nil
	p.mu.Unlock()
}

// Close stops accepting work, waits for in-flight analyses, and closes the
// results channel. Idempotent.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.pending = nil
	p.mu.Unlock()

	close(p.done)
	p.wg.Wait()
	close(p.results)
}
