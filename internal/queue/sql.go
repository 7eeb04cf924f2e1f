package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// dialect captures what differs between the SQL backends.
type dialect struct {
	driver string

	// schema returns the DDL run once on first use.
	schema func(table string) []string

	// placeholders rewrites ? markers into the driver's syntax.
	placeholders func(query string) string

	// lockClause is appended to the dequeue SELECT.
	lockClause string

	// quote renders the table name in queries. Nil leaves it bare.
	quote func(identifier string) string

	// configure runs after the pool is opened.
	configure func(db *sql.DB)
}

// sqlQueue is the shared core of the sqlite and postgres backends.
// Items live in one table; visible_at (unix nanos) doubles as the delay and
// the lease: Dequeue pushes it forward by the lease timeout, Nack resets it,
// Ack deletes the row.
type sqlQueue struct {
	dsn     string
	table   string
	dialect dialect
	opts    Options
	openDB  sqlOpenFunc
	now     func() time.Time

	initOnce sync.Once
	initErr  error
	db       *sql.DB

	closeOnce sync.Once
	done      chan struct{}
}

func newSQLQueue(dsn, table string, d dialect, opts Options) (*sqlQueue, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" || strings.TrimSpace(table) == "" {
		return nil, ErrInvalidInput
	}
	return &sqlQueue{
		dsn:     dsn,
		table:   table,
		dialect: d,
		opts:    opts.withDefaults(),
		openDB:  sql.Open,
		now:     time.Now,
		done:    make(chan struct{}),
	}, nil
}

func (q *sqlQueue) ensureReady(ctx context.Context) error {
	q.initOnce.Do(func() {
		db, err := q.openDB(q.dialect.driver, q.dsn)
		if err != nil {
			q.initErr = fmt.Errorf("open queue database: %w", err)
			return
		}
		if q.dialect.configure != nil {
			q.dialect.configure(db)
		}
		for _, stmt := range q.dialect.schema(q.table) {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				_ = db.Close()
				q.initErr = fmt.Errorf("create queue schema: %w", err)
				return
			}
		}
		q.db = db
	})
	return q.initErr
}

func (q *sqlQueue) query(s string) string {
	table := q.table
	if q.dialect.quote != nil {
		table = q.dialect.quote(table)
	}
	s = strings.ReplaceAll(s, "{table}", table)
	if q.dialect.placeholders != nil {
		s = q.dialect.placeholders(s)
	}
	return s
}

func (q *sqlQueue) isClosed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

func (q *sqlQueue) Enqueue(ctx context.Context, topic string, payload []byte, delay time.Duration) error {
	if q.isClosed() {
		return ErrClosed
	}
	if topic == "" {
		return ErrInvalidInput
	}
	if err := q.ensureReady(ctx); err != nil {
		return err
	}

	now := q.now()
	_, err := q.db.ExecContext(ctx, q.query(`
		INSERT INTO {table} (id, topic, payload, visible_at, attempts, enqueued_at)
		VALUES (?, ?, ?, ?, 0, ?)`),
		uuid.Must(uuid.NewV7()).String(), topic, payload, now.Add(delay).UnixNano(), now.UnixNano())
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", topic, err)
	}
	return nil
}

func (q *sqlQueue) Dequeue(ctx context.Context, topic string) (*Delivery, error) {
	for {
		if q.isClosed() {
			return nil, ErrClosed
		}
		d, err := q.tryDequeue(ctx, topic)
		if err != nil {
			if q.isClosed() {
				return nil, ErrClosed
			}
			return nil, err
		}
		if d != nil {
			return d, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.done:
			return nil, ErrClosed
		case <-time.After(q.opts.PollInterval):
		}
	}
}

func (q *sqlQueue) tryDequeue(ctx context.Context, topic string) (*Delivery, error) {
	if err := q.ensureReady(ctx); err != nil {
		return nil, err
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("dequeue %s: begin: %w", topic, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	now := q.now()
	var (
		id       string
		payload  []byte
		attempts int
	)
	err = tx.QueryRowContext(ctx, q.query(`
		SELECT id, payload, attempts
		FROM {table}
		WHERE topic = ? AND visible_at <= ?
		ORDER BY visible_at ASC, id ASC
		LIMIT 1`+q.dialect.lockClause), topic, now.UnixNano()).Scan(&id, &payload, &attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue %s: select: %w", topic, err)
	}

	attempts++
	if _, err := tx.ExecContext(ctx, q.query(`
		UPDATE {table} SET visible_at = ?, attempts = ? WHERE id = ?`),
		now.Add(q.opts.LeaseTimeout).UnixNano(), attempts, id); err != nil {
		return nil, fmt.Errorf("dequeue %s: lease: %w", topic, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("dequeue %s: commit: %w", topic, err)
	}
	committed = true

	return &Delivery{ID: id, Topic: topic, Payload: payload, Attempt: attempts}, nil
}

func (q *sqlQueue) Ack(ctx context.Context, d *Delivery) error {
	if err := q.ensureReady(ctx); err != nil {
		return err
	}
	res, err := q.db.ExecContext(ctx, q.query(`DELETE FROM {table} WHERE id = ?`), d.ID)
	if err != nil {
		return fmt.Errorf("ack %s: %w", d.ID, err)
	}
	return expectOneRow(res, "ack", d.ID)
}

func (q *sqlQueue) Nack(ctx context.Context, d *Delivery, delay time.Duration) error {
	if err := q.ensureReady(ctx); err != nil {
		return err
	}
	res, err := q.db.ExecContext(ctx, q.query(`UPDATE {table} SET visible_at = ? WHERE id = ?`),
		q.now().Add(delay).UnixNano(), d.ID)
	if err != nil {
		return fmt.Errorf("nack %s: %w", d.ID, err)
	}
	return expectOneRow(res, "nack", d.ID)
}

func expectOneRow(res sql.Result, op, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %s: rows affected: %w", op, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", op, id, ErrUnknownDelivery)
	}
	return nil
}

func (q *sqlQueue) Depth(ctx context.Context, topic string) (int, error) {
	if err := q.ensureReady(ctx); err != nil {
		return 0, err
	}
	var n int
	if err := q.db.QueryRowContext(ctx, q.query(`SELECT COUNT(*) FROM {table} WHERE topic = ?`), topic).Scan(&n); err != nil {
		return 0, fmt.Errorf("depth %s: %w", topic, err)
	}
	return n, nil
}

func (q *sqlQueue) Close() error {
	var err error
	q.closeOnce.Do(func() {
		close(q.done)
		if q.db != nil {
			err = q.db.Close()
		}
	})
	return err
}

// dollarPlaceholders rewrites ? markers to $1, $2, ... for postgres.
func dollarPlaceholders(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
