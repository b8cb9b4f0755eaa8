package clickhouse

import (
	"context"
	"errors"
	"sync"
	"time"

	"walletfeed/internal/config"
	"walletfeed/internal/domain"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"gitlab.com/nevasik7/alerting/logger"
)

// ActivityRow is the archive shape of a finalized activity. Only confirmed
// and failed activities are archived; local and pending ones churn ids too
// often to be worth keeping.
type ActivityRow struct {
	ArchivedAt    time.Time
	AccountID     string
	Chain         string
	ActivityID    string
	Kind          string
	Status        string
	EventTime     time.Time
	Slug          string
	FromSlug      string
	ToSlug        string
	Amount        string // Decimal(38,18) — send string
	FromAmount    string
	ToAmount      string
	Fee           string
	IsIncoming    bool // convert to UInt8
	SchemaVersion uint16
}

const activitySchemaVersion = 1

func NewActivityRow(accountID, chain string, a *domain.Activity) ActivityRow {
	return ActivityRow{
		ArchivedAt:    time.Now().UTC(),
		AccountID:     accountID,
		Chain:         chain,
		ActivityID:    a.ID,
		Kind:          string(a.Kind),
		Status:        string(a.Status),
		EventTime:     time.UnixMilli(a.Timestamp).UTC(),
		Slug:          a.Slug,
		FromSlug:      a.FromSlug,
		ToSlug:        a.ToSlug,
		Amount:        a.Amount,
		FromAmount:    a.FromAmount,
		ToAmount:      a.ToAmount,
		Fee:           a.Fee,
		IsIncoming:    a.IsIncoming,
		SchemaVersion: activitySchemaVersion,
	}
}

type Writer struct {
	log logger.Logger

	conn ch.Conn
	cfg  config.ClickHouseConfig

	inCh      chan ActivityRow
	closedCh  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewWriter(log logger.Logger, conn ch.Conn, cfg config.ClickHouseConfig) *Writer {
	// sane defaults
	if cfg.Writer.BatchMaxRows <= 0 {
		cfg.Writer.BatchMaxRows = 1000
	}
	if cfg.Writer.BatchMaxInterval <= 0 {
		cfg.Writer.BatchMaxInterval = 200 * time.Millisecond
	}
	if cfg.Writer.MaxRetries < 0 {
		cfg.Writer.MaxRetries = 0
	}
	if cfg.Writer.RetryBackoff <= 0 {
		cfg.Writer.RetryBackoff = 200 * time.Millisecond
	}

	w := &Writer{
		log:      log,
		conn:     conn,
		cfg:      cfg,
		inCh:     make(chan ActivityRow, 8192),
		closedCh: make(chan struct{}),
	}

	w.wg.Add(1)
	go w.loop()

	return w
}

func (w *Writer) Enqueue(row ActivityRow) error {
	select {
	case <-w.closedCh:
		return errors.New("clickhouse writer closed")
	default:
	}

	select {
	case w.inCh <- row:
		return nil
	case <-w.closedCh:
		return errors.New("clickhouse writer closed")
	}
}

func (w *Writer) Close(ctx context.Context) error {
	w.closeOnce.Do(func() {
		close(w.closedCh)
	})
	close(w.inCh)

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) loop() {
	defer w.wg.Done()

	batch := make([]ActivityRow, 0, w.cfg.Writer.BatchMaxRows)
	ticker := time.NewTicker(w.cfg.Writer.BatchMaxInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}

		if err := w.insertBatch(context.Background(), batch); err != nil {
			w.log.Errorf("Failed insert [%d] rows by batch to clickhouse, error=%v", len(batch), err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case row, ok := <-w.inCh:
			if !ok {
				flush()
				return
			}

			batch = append(batch, row)
			if len(batch) >= w.cfg.Writer.BatchMaxRows {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-w.closedCh:
		}
	}
}

func (w *Writer) insertBatch(ctx context.Context, rows []ActivityRow) error {
	if len(rows) == 0 {
		return nil
	}

	// repeat with exponential delay
	backoff := w.cfg.Writer.RetryBackoff

	var lastErr error

	for attempt := 0; attempt <= w.cfg.Writer.MaxRetries; attempt++ {
		batch, err := w.conn.PrepareBatch(ctx, `
			INSERT INTO activities (
				archived_at,
				account_id,
				chain,
				activity_id,
				kind,
				status,
				event_time,
				slug,
				from_slug,
				to_slug,
				amount,
				from_amount,
				to_amount,
				fee,
				is_incoming,
				schema_version
			)
		`)
		if err != nil {
			lastErr = err
			goto retry
		}

		for i := range rows {
			r := &rows[i]
			var incoming uint8
			if r.IsIncoming {
				incoming = 1
			}

			if err = batch.Append(
				r.ArchivedAt,
				r.AccountID,
				r.Chain,
				r.ActivityID,
				r.Kind,
				r.Status,
				r.EventTime,
				r.Slug,
				r.FromSlug,
				r.ToSlug,
				r.Amount,
				r.FromAmount,
				r.ToAmount,
				r.Fee,
				incoming,
				r.SchemaVersion,
			); err != nil {
				lastErr = err
				_ = batch.Abort()
				goto retry
			}
		}

		if err = batch.Send(); err != nil {
			lastErr = err
			goto retry
		}
		// success
		return nil

	retry:
		if attempt == w.cfg.Writer.MaxRetries {
			break
		}
		time.Sleep(backoff)
		backoff *= 2
	}

	return lastErr
}
