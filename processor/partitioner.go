package processor

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"sync"
	"time"

	appconfig "depthflow/config"
	"depthflow/logger"
	"depthflow/market"
	"depthflow/metrics"
	"depthflow/models"
	"depthflow/source"
)

var ErrNotRunning = errors.New("partitioner is not running")

// Consumer drains Output on its own goroutines. Start is called before the
// first event is dispatched and Stop after Output has been closed.
type Consumer interface {
	Start(ctx context.Context, in <-chan metrics.Entry) error
	Stop() error
}

// Partitioner replays events on several workers. Every event of one
// (symbol, market) goes to the same worker, so each MarketState has a single
// writer and keeps its row order. Emissions of different instruments may
// interleave on the output channel.
type Partitioner struct {
	config       *appconfig.Config
	global       *market.GlobalMarketState
	inputs       []chan models.Entry
	channelNames []string
	out          chan metrics.Entry
	mask         metrics.Mask
	ctx          context.Context
	wg           *sync.WaitGroup
	mu           sync.RWMutex
	running      bool
	stopped      bool
	log          *logger.Log
}

func NewPartitioner(cfg *appconfig.Config, global *market.GlobalMarketState) *Partitioner {
	workers := cfg.Processor.Workers
	if workers < 1 {
		workers = 1
	}
	buffer := cfg.Processor.Buffer
	if buffer < 0 {
		buffer = 0
	}
	inputs := make([]chan models.Entry, workers)
	names := make([]string, workers)
	for i := range inputs {
		inputs[i] = make(chan models.Entry, buffer)
		names[i] = fmt.Sprintf("partition_%d", i)
	}
	return &Partitioner{
		config:       cfg,
		global:       global,
		inputs:       inputs,
		out:          make(chan metrics.Entry, buffer),
		channelNames: names,
		wg:           &sync.WaitGroup{},
		log:          logger.GetLogger(),
	}
}

// Output carries the emitted records. It is closed by Stop once every worker
// has finished.
func (p *Partitioner) Output() <-chan metrics.Entry { return p.out }

// Workers is the number of partitions.
func (p *Partitioner) Workers() int { return len(p.inputs) }

// Partition returns the worker that owns k.
func (p *Partitioner) Partition(k market.Key) int {
	return partition(k, len(p.inputs))
}

func partition(k market.Key, n int) int {
	h := fnv.New32a()
	h.Write([]byte(k.String()))
	return int(h.Sum32() % uint32(n))
}

// Start launches the workers. The global mask is captured here.
func (p *Partitioner) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running || p.stopped {
		p.mu.Unlock()
		return fmt.Errorf("partitioner already started")
	}
	p.running = true
	p.ctx = ctx
	p.mask = p.global.Mask()
	p.mu.Unlock()

	log := p.log.WithComponent("partitioner").WithFields(logger.Fields{"operation": "start", "workers": len(p.inputs)})
	log.Info("starting partitioner")

	for i, in := range p.inputs {
		p.wg.Add(1)
		go p.worker(i, in)
	}

	interval := p.config.Processor.ReportInterval
	if interval > 0 {
		go p.metricsReporter(ctx, interval)
	}

	log.Info("partitioner started successfully")
	return nil
}

// Dispatch hands e to the worker owning its instrument. It blocks while that
// worker's queue is full.
func (p *Partitioner) Dispatch(e models.Entry) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running {
		return ErrNotRunning
	}
	id := p.Partition(market.KeyOf(e))
	select {
	case p.inputs[id] <- e:
		logger.RecordChannelMessage(p.channelNames[id], 1)
		return nil
	case <-p.ctx.Done():
		return p.ctx.Err()
	}
}

// Stop closes the worker queues, waits for the workers to drain them and
// closes Output.
func (p *Partitioner) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.stopped = true
	for _, in := range p.inputs {
		close(in)
	}
	p.mu.Unlock()

	p.log.WithComponent("partitioner").Info("stopping partitioner")
	p.wg.Wait()
	close(p.out)
	p.log.WithComponent("partitioner").Info("partitioner stopped")
}

func (p *Partitioner) worker(id int, in <-chan models.Entry) {
	defer p.wg.Done()
	log := p.log.WithComponent("partitioner").WithFields(logger.Fields{"worker": id})

	for {
		select {
		case <-p.ctx.Done():
			return
		case e, ok := <-in:
			if !ok {
				return
			}
			if !p.handle(e) {
				log.Debug("context cancelled while emitting")
				return
			}
		}
	}
}

func (p *Partitioner) handle(e models.Entry) bool {
	switch e.(type) {
	case models.DepthEntry, *models.DepthEntry:
		logger.IncrementDepthEvent()
	case models.TradeEntry, *models.TradeEntry:
		logger.IncrementTradeEvent()
	}

	st := p.global.Update(e)
	if !e.Last() {
		return true
	}
	entry, ok := st.CountMarketStateMetrics(p.mask)
	if !ok {
		return true
	}
	select {
	case p.out <- entry:
		logger.IncrementEmission()
		return true
	case <-p.ctx.Done():
		return false
	}
}

func (p *Partitioner) metricsReporter(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.RLock()
			running := p.running
			p.mu.RUnlock()
			if !running {
				return
			}
			queued := 0
			for i, in := range p.inputs {
				queued += len(in)
				p.log.LogMetric("partitioner", "PartitionQueueLength", len(in), "gauge", logger.Fields{
					"partition": p.channelNames[i],
				})
			}
			p.log.WithComponent("partitioner").WithFields(logger.Fields{
				"input_queued":  queued,
				"output_len":    len(p.out),
				"output_cap":    cap(p.out),
				"market_states": p.global.MarketStateCount(),
				"worker_count":  len(p.inputs),
			}).Info("partitioner channel sizes")
		}
	}
}

// Replay runs src through the workers and hands every record to cb from a
// single goroutine. The first error from src or cb cancels the replay.
func (p *Partitioner) Replay(ctx context.Context, src source.Source, cb func(metrics.Entry) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := p.Start(ctx); err != nil {
		return err
	}

	cbErr := make(chan error, 1)
	go func() {
		var first error
		for e := range p.out {
			if first != nil {
				continue
			}
			if err := cb(e); err != nil {
				first = err
				cancel()
			}
		}
		cbErr <- first
	}()

	readErr := p.feed(src)
	p.Stop()

	if err := <-cbErr; err != nil {
		return err
	}
	if readErr != nil {
		return readErr
	}
	return ctx.Err()
}

// Stream runs src through the workers into c. Output is closed before c is
// stopped, so c sees every record.
func (p *Partitioner) Stream(ctx context.Context, src source.Source, c Consumer) error {
	if err := p.Start(ctx); err != nil {
		return err
	}
	if err := c.Start(ctx, p.Output()); err != nil {
		p.Stop()
		return fmt.Errorf("start consumer: %w", err)
	}

	readErr := p.feed(src)
	p.Stop()
	stopErr := c.Stop()

	if readErr != nil {
		return errors.Join(readErr, stopErr)
	}
	if stopErr != nil {
		return stopErr
	}
	return ctx.Err()
}

// feed dispatches src until it is exhausted. Dispatch only fails once the
// replay is cancelled, which the callers report through ctx.
func (p *Partitioner) feed(src source.Source) error {
	for {
		e, err := src.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read event: %w", err)
		}
		if err := p.Dispatch(e); err != nil {
			return nil
		}
	}
}
