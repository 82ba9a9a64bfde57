package dbdir

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/maruel/ksid"
	"golang.org/x/time/rate"

	"github.com/maruel/blockdb/internal/basictable"
	"github.com/maruel/blockdb/internal/memtable"
	"github.com/maruel/blockdb/internal/model"
	"github.com/maruel/blockdb/internal/predicate"
	"github.com/maruel/blockdb/internal/query"
)

// monitor owns the in-memory monitoring table that each monitored
// Directory call (select/insert/update/delete and
// create/drop/truncate/clone) inserts a before/after record into. Rows
// carry a ksid.NewID()
// correlation token in their "rid" field, sortable and globally unique;
// the memtable's own int64 autoincrement id is what the before hook
// returns and the after hook matches on, since memtable.Insert only
// understands int64 ids.
type monitor struct {
	opts   MonitorOptions
	table  *memtable.Table
	logger *slog.Logger

	mu       sync.Mutex
	sweeping bool
	limiter  *rate.Limiter
	stop     chan struct{}
	done     chan struct{}
}

func newMonitor(opts MonitorOptions, logger *slog.Logger) *monitor {
	if opts.Table == "" {
		opts.Table = "__monitoring"
	}
	if opts.IntervalMinutes <= 0 {
		opts.IntervalMinutes = 15
	}
	if opts.MaxQueryLength <= 0 {
		opts.MaxQueryLength = 200
	}
	m := &monitor{
		opts:   opts,
		table:  memtable.Open(),
		logger: logger,
		// One sweep attempt per minute regardless of how often sweepLoop
		// wakes; keeps a very short IntervalMinutes from turning into a
		// busy-loop of table scans.
		limiter: rate.NewLimiter(rate.Every(time.Minute), 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

// monitored wraps fn with a before/after monitoring record if monitoring
// is enabled, and simply runs fn otherwise.
func (d *Directory) monitored(method, detail string, fn func() error) error {
	if d.monitor == nil {
		return fn()
	}
	id := d.monitor.before(method, detail)
	err := fn()
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	d.monitor.after(id, msg)
	return err
}

func (m *monitor) before(method, detail string) int64 {
	q := fmt.Sprintf("%s(%s)", method, detail)
	if len(q) > m.opts.MaxQueryLength {
		q = q[:m.opts.MaxQueryLength]
	}
	id, _ := m.table.Insert(model.Record{
		"rid":       ksid.NewID().String(),
		"method":    method,
		"query":     q,
		"error":     "",
		"timeBegin": time.Now().UnixNano(),
		"timeEnd":   int64(0),
	}, basictable.InsertDefault)
	return id
}

func (m *monitor) after(id int64, errMsg string) {
	_, _ = m.table.Update(query.Mutation{
		Where: predicate.IDSet([]int64{id}),
		Apply: func(r model.Record) model.Record {
			r["timeEnd"] = time.Now().UnixNano()
			r["error"] = errMsg
			return r
		},
	})
}

// Rows returns every monitoring record currently retained, for callers
// (tests, CLI introspection) that want to inspect recent call history.
func (m *monitor) Rows() ([]model.Record, error) {
	return m.table.Select(query.Select{})
}

// MonitoringRows returns the monitoring table's current contents, or nil
// when monitoring is disabled.
func (d *Directory) MonitoringRows() ([]model.Record, error) {
	if d.monitor == nil {
		return nil, nil
	}
	return d.monitor.Rows()
}

func (m *monitor) sweepLoop() {
	defer close(m.done)
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			// The ticker wakes often so a short IntervalMinutes is noticed
			// promptly; the limiter is what actually paces sweeps.
			if !m.limiter.Allow() {
				continue
			}
			m.sweep()
		case <-m.stop:
			return
		}
	}
}

// sweep deletes monitoring rows older than opts.IntervalMinutes. A boolean
// reentrancy guard keeps at most one sweep running at a time.
func (m *monitor) sweep() {
	m.mu.Lock()
	if m.sweeping {
		m.mu.Unlock()
		return
	}
	m.sweeping = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.sweeping = false
		m.mu.Unlock()
	}()

	cutoff := time.Now().Add(-time.Duration(m.opts.IntervalMinutes) * time.Minute).UnixNano()
	n, err := m.table.Delete(predicate.Func(func(r model.Record) bool {
		tb, _ := r["timeBegin"].(int64)
		return tb < cutoff
	}))
	if err != nil {
		m.logger.Warn("dbdir: monitoring sweep failed", "err", err)
		return
	}
	if n > 0 {
		m.logger.Debug("dbdir: monitoring sweep evicted rows", "count", n)
	}
}

func (m *monitor) stopSweeping() {
	close(m.stop)
	<-m.done
}
