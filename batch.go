package traitmerge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrRetriesExhausted ends a run that kept failing at the same cursor.
var ErrRetriesExhausted = errors.New("traitmerge: retries exhausted")

// Progress is the share of the run done so far.
type Progress struct {
	Cursor int
	Total  int
}

func (p Progress) Fraction() float64 {
	if p.Total <= 0 {
		return 1
	}
	return float64(p.Cursor) / float64(p.Total)
}

// RunState is everything needed to continue a run: the combinations, the
// options and the index of the next unprocessed combination.
type RunState struct {
	Cursor  int
	Seq     *Generator
	Options Options
}

// BatchResult describes one Processor.Run call.
type BatchResult struct {
	Start   int
	Cursor  int
	Total   int
	Written int
	// Indices consumed without output because no layer decoded.
	Skipped  []int
	Warnings []error
}

func (r BatchResult) Done() bool {
	return r.Cursor >= r.Total
}

func (r BatchResult) Progress() Progress {
	return Progress{Cursor: r.Cursor, Total: r.Total}
}

type Processor struct {
	Compositor Compositor
	Emitter    *Emitter
	Writer     ArtifactWriter
	// Called after every item, from the goroutine that advanced the cursor.
	OnProgress func(Progress)

	state RunState
	log   *zap.Logger
}

// NewProcessor prepares a run over seq starting at cursor start.
// seq should already be truncated to the sample size.
func NewProcessor(seq *Generator, opt Options, start int) (*Processor, error) {
	if seq == nil {
		return nil, errors.New("nil combination sequence")
	}
	if opt.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", opt.BatchSize)
	}
	if start < 0 || start > seq.Len() {
		return nil, fmt.Errorf("cursor %d outside [0, %d]", start, seq.Len())
	}
	if opt.OutputDir == "" {
		return nil, errors.New("output directory is required")
	}
	comp, err := NewCompositor(opt)
	if err != nil {
		return nil, err
	}
	return &Processor{
		Compositor: comp,
		Emitter:    NewEmitter(opt),
		Writer:     &DirWriter{Dir: opt.OutputDir},
		state:      RunState{Cursor: start, Seq: seq, Options: opt},
		log:        opt.logger(),
	}, nil
}

func (p *Processor) State() RunState { return p.state }

func (p *Processor) Cursor() int { return p.state.Cursor }

func (p *Processor) Progress() Progress {
	return Progress{Cursor: p.state.Cursor, Total: p.state.Seq.Len()}
}

type outcome struct {
	skipped error
	failed  error
}

// process writes the image then the metadata of one combination.
func (p *Processor) process(index int, c Combination) outcome {
	img, err := p.Compositor.Composite(c)
	if err != nil {
		var nc *NoContentError
		if errors.As(err, &nc) {
			p.log.Warn("batch: combination skipped", zap.Int("index", index), zap.Error(err))
			return outcome{skipped: fmt.Errorf("combination %d: %w", index, err)}
		}
		return outcome{failed: fmt.Errorf("combination %d: %w", index, err)}
	}
	path, err := p.Writer.WriteImage(index, img)
	if err != nil {
		p.log.Error("batch: image write failed", zap.Int("index", index), zap.Error(err))
		return outcome{failed: err}
	}
	md := p.Emitter.Emit(c, index, path, img)
	if err := p.Writer.WriteMetadata(index, md); err != nil {
		p.log.Error("batch: metadata write failed", zap.Int("index", index), zap.Error(err))
		// An image is only kept together with its metadata.
		if rerr := p.Writer.RemoveImage(index); rerr != nil {
			p.log.Error("batch: removing unpaired image failed", zap.Int("index", index), zap.Error(rerr))
			err = errors.Join(err, rerr)
		}
		return outcome{failed: err}
	}
	return outcome{}
}

// advance records a finished item and moves the cursor past it.
func (p *Processor) advance(res *BatchResult, index int, o outcome) {
	if o.skipped != nil {
		res.Skipped = append(res.Skipped, index)
		res.Warnings = append(res.Warnings, o.skipped)
	} else {
		res.Written++
	}
	p.state.Cursor = index + 1
	res.Cursor = p.state.Cursor
	if p.OnProgress != nil {
		p.OnProgress(Progress{Cursor: res.Cursor, Total: res.Total})
	}
}

// Run processes the next batch of at most Options.BatchSize combinations.
// The batch always runs to completion; ctx is only consulted before it
// starts. When an item fails to be written the batch stops there and the
// cursor stays on that item, so the next Run retries it.
func (p *Processor) Run(ctx context.Context) (BatchResult, error) {
	total := p.state.Seq.Len()
	res := BatchResult{Start: p.state.Cursor, Cursor: p.state.Cursor, Total: total}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	end := min(p.state.Cursor+p.state.Options.BatchSize, total)
	if res.Start >= end {
		return res, nil
	}

	var err error
	if p.state.Options.Workers > 1 {
		err = p.runParallel(&res, end)
	} else {
		err = p.runSequential(&res, end)
	}
	p.log.Info("batch: done",
		zap.Int("start", res.Start),
		zap.Int("cursor", res.Cursor),
		zap.Int("total", res.Total),
		zap.Int("written", res.Written),
		zap.Int("skipped", len(res.Skipped)),
		zap.Error(err))
	return res, err
}

func (p *Processor) runSequential(res *BatchResult, end int) error {
	for i, c := range p.state.Seq.From(res.Start) {
		if i >= end {
			break
		}
		o := p.process(i, c)
		if o.failed != nil {
			return o.failed
		}
		p.advance(res, i, o)
	}
	return nil
}

// runParallel composites up to Workers combinations at once. The cursor
// only moves over the contiguous prefix of finished items and stops at the
// first failure.
func (p *Processor) runParallel(res *BatchResult, end int) error {
	n := end - res.Start
	outs := make([]outcome, n)
	done := make([]bool, n)
	next := 0
	var (
		mu     sync.Mutex
		failed error
	)

	var g errgroup.Group
	g.SetLimit(p.state.Options.Workers)
	for i, c := range p.state.Seq.From(res.Start) {
		if i >= end {
			break
		}
		mu.Lock()
		stop := failed != nil
		mu.Unlock()
		if stop {
			break
		}
		g.Go(func() error {
			o := p.process(i, c)
			mu.Lock()
			defer mu.Unlock()
			k := i - res.Start
			outs[k], done[k] = o, true
			for failed == nil && next < n && done[next] {
				if outs[next].failed != nil {
					failed = outs[next].failed
					break
				}
				p.advance(res, res.Start+next, outs[next])
				next++
			}
			return nil
		})
	}
	_ = g.Wait()
	return failed
}

// RunSummary aggregates every batch of RunAll.
type RunSummary struct {
	Cursor  int
	Total   int
	Batches int
	Written int
	Skipped []int
}

// RunAll calls Run until the sequence is exhausted. onBatch, when not nil,
// sees every batch result, including failed ones, and is the place to
// persist the cursor. Cancellation is honoured between batches. A failing
// item is retried up to Options.MaxWriteRetries times before the run ends
// with ErrRetriesExhausted.
func (p *Processor) RunAll(ctx context.Context, onBatch func(BatchResult) error) (RunSummary, error) {
	sum := RunSummary{Cursor: p.state.Cursor, Total: p.state.Seq.Len()}
	failCursor, failures := -1, 0
	for sum.Cursor < sum.Total {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		res, err := p.Run(ctx)
		sum.Batches++
		sum.Cursor = res.Cursor
		sum.Written += res.Written
		sum.Skipped = append(sum.Skipped, res.Skipped...)
		if onBatch != nil {
			if cerr := onBatch(res); cerr != nil {
				return sum, fmt.Errorf("checkpoint at %d: %w", res.Cursor, cerr)
			}
		}
		if err == nil {
			failCursor, failures = -1, 0
			continue
		}
		if res.Cursor == failCursor {
			failures++
		} else {
			failCursor, failures = res.Cursor, 1
		}
		if failures > p.state.Options.MaxWriteRetries {
			return sum, fmt.Errorf("%w at cursor %d: %w", ErrRetriesExhausted, res.Cursor, err)
		}
		p.log.Warn("batch: retrying from cursor", zap.Int("cursor", res.Cursor), zap.Int("attempt", failures+1))
	}
	return sum, nil
}
