// Package persistence batches audit writes (pair events, executor calls, watchdog reports, signals) into sqlite.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pair-trader/pkg/db"
)

// Recorder accepts audit rows. Implementations must not block the caller on I/O.
type Recorder interface {
	Record(row db.Statement)
}

// Stats counts what the writer did with the rows it was given.
type Stats struct {
	Rows          uint64    `json:"rows"`
	Batches       uint64    `json:"batches"`
	FailedBatches uint64    `json:"failed_batches"`
	Dropped       uint64    `json:"dropped"`
	LastBatchSize int       `json:"last_batch_size"`
	LastFlush     time.Time `json:"last_flush"`
}

// BatchWriter buffers audit rows and writes them in one transaction per batch.
// A batch that fails is retried row by row so one bad row loses only itself.
// When the database stalls the buffer is capped and the oldest rows go first.
type BatchWriter struct {
	db         *sql.DB
	log        zerolog.Logger
	maxSize    int
	maxPending int
	interval   time.Duration
	timeout    time.Duration

	mu      sync.Mutex
	pending []db.Statement
	stats   Stats

	flushMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewBatchWriter flushes every interval or once maxSize rows are pending.
func NewBatchWriter(database *sql.DB, maxSize int, interval time.Duration, log zerolog.Logger) *BatchWriter {
	if maxSize <= 0 {
		maxSize = 50
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	bw := &BatchWriter{
		db:         database,
		log:        log.With().Str("component", "audit_writer").Logger(),
		maxSize:    maxSize,
		maxPending: maxSize * 100,
		interval:   interval,
		timeout:    5 * time.Second,
		pending:    make([]db.Statement, 0, maxSize),
		done:       make(chan struct{}),
	}
	bw.wg.Add(1)
	go bw.loop()
	return bw
}

// Record queues a row. It never blocks on the database.
func (bw *BatchWriter) Record(row db.Statement) {
	bw.mu.Lock()
	if len(bw.pending) >= bw.maxPending {
		bw.pending = bw.pending[1:]
		bw.stats.Dropped++
	}
	bw.pending = append(bw.pending, row)
	full := len(bw.pending) >= bw.maxSize
	bw.mu.Unlock()

	if full {
		go bw.Flush()
	}
}

// Flush writes everything pending. The error reports rows that could not be stored.
func (bw *BatchWriter) Flush() error {
	bw.flushMu.Lock()
	defer bw.flushMu.Unlock()

	bw.mu.Lock()
	rows := bw.pending
	bw.pending = make([]db.Statement, 0, bw.maxSize)
	bw.mu.Unlock()
	if len(rows) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), bw.timeout)
	defer cancel()

	err := bw.writeBatch(ctx, rows)
	dropped := 0
	if err != nil {
		bw.log.Warn().Err(err).Int("rows", len(rows)).Msg("audit batch failed, writing rows one by one")
		dropped = bw.salvage(ctx, rows)
	}

	bw.mu.Lock()
	bw.stats.Batches++
	bw.stats.Rows += uint64(len(rows) - dropped)
	bw.stats.Dropped += uint64(dropped)
	bw.stats.LastBatchSize = len(rows)
	bw.stats.LastFlush = time.Now()
	if err != nil {
		bw.stats.FailedBatches++
	}
	bw.mu.Unlock()

	if dropped > 0 {
		return fmt.Errorf("audit: %d of %d rows dropped: %w", dropped, len(rows), err)
	}
	return nil
}

func (bw *BatchWriter) writeBatch(ctx context.Context, rows []db.Statement) error {
	tx, err := bw.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	for _, row := range rows {
		q, args := row.Statement()
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	bw.log.Debug().Int("rows", len(rows)).Msg("audit batch written")
	return nil
}

// salvage writes rows individually and returns how many were lost.
func (bw *BatchWriter) salvage(ctx context.Context, rows []db.Statement) int {
	lost := 0
	for _, row := range rows {
		q, args := row.Statement()
		if _, err := bw.db.ExecContext(ctx, q, args...); err != nil {
			lost++
			bw.log.Error().Err(err).Str("row", fmt.Sprintf("%T", row)).Msg("audit row dropped")
		}
	}
	return lost
}

func (bw *BatchWriter) loop() {
	defer bw.wg.Done()
	t := time.NewTicker(bw.interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if err := bw.Flush(); err != nil {
				bw.log.Error().Err(err).Msg("audit flush")
			}
		case <-bw.done:
			return
		}
	}
}

// Pending returns the number of rows waiting for the next flush.
func (bw *BatchWriter) Pending() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.pending)
}

func (bw *BatchWriter) Stats() Stats {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return bw.stats
}

// Close stops the background loop and writes what is left.
func (bw *BatchWriter) Close() error {
	var err error
	bw.closeOnce.Do(func() {
		close(bw.done)
		bw.wg.Wait()
		err = bw.Flush()
	})
	return err
}

// Discard drops audit rows; used when no database is configured.
type Discard struct{}

func (Discard) Record(db.Statement) {}
