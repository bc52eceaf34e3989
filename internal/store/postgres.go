package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresEntriesTableName    = "offlinesync_entries"
	postgresPartitionsTableName = "offlinesync_partitions"
	postgresOperationTimeout    = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

type PostgresStore struct {
	dsn            string
	entriesTable   string
	partitionTable string
	openDB         sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &PostgresStore{
		dsn:            dsn,
		entriesTable:   postgresEntriesTableName,
		partitionTable: postgresPartitionsTableName,
		openDB:         sql.Open,
	}, nil
}

func (s *PostgresStore) ensureReady() error {
	if s == nil {
		return ErrInvalidInput
	}
	s.initOnce.Do(func() {
		db, err := s.openDB("postgres", s.dsn)
		if err != nil {
			s.initErr = fmt.Errorf("%w: %v", ErrUnavailable, err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()
		schema := []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				name TEXT PRIMARY KEY
			)`, postgresQuoteIdentifier(s.partitionTable)),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				partition TEXT NOT NULL,
				key TEXT NOT NULL,
				entry TEXT NOT NULL,
				PRIMARY KEY (partition, key)
			)`, postgresQuoteIdentifier(s.entriesTable)),
		}
		for _, stmt := range schema {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				_ = db.Close()
				s.initErr = fmt.Errorf("%w: %v", ErrUnavailable, err)
				return
			}
		}
		s.db = db
	})
	return s.initErr
}

func (s *PostgresStore) Open(ctx context.Context, name string) (Partition, error) {
	if name == "" {
		return nil, ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`,
		postgresQuoteIdentifier(s.partitionTable))
	if _, err := s.db.ExecContext(opCtx, query, name); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &postgresPartition{store: s, name: name}, nil
}

func (s *PostgresStore) ListPartitions(ctx context.Context) ([]string, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	query := fmt.Sprintf(`SELECT name FROM %s`, postgresQuoteIdentifier(s.partitionTable))
	rows, err := s.db.QueryContext(opCtx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()
	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	sort.Strings(names)
	return names, nil
}

func (s *PostgresStore) DeletePartition(ctx context.Context, name string) (bool, error) {
	if err := s.ensureReady(); err != nil {
		return false, err
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	entriesQuery := fmt.Sprintf(`DELETE FROM %s WHERE partition = $1`,
		postgresQuoteIdentifier(s.entriesTable))
	if _, err := s.db.ExecContext(opCtx, entriesQuery, name); err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	nameQuery := fmt.Sprintf(`DELETE FROM %s WHERE name = $1`,
		postgresQuoteIdentifier(s.partitionTable))
	res, err := s.db.ExecContext(opCtx, nameQuery, name)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type postgresPartition struct {
	store *PostgresStore
	name  string
}

func (p *postgresPartition) Name() string { return p.name }

func (p *postgresPartition) Get(ctx context.Context, key string) (Entry, error) {
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	query := fmt.Sprintf(`SELECT entry FROM %s WHERE partition = $1 AND key = $2`,
		postgresQuoteIdentifier(p.store.entriesTable))
	var payload string
	err := p.store.db.QueryRowContext(opCtx, query, p.name, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var entry Entry
	if err := json.Unmarshal([]byte(payload), &entry); err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return entry, nil
}

func (p *postgresPartition) Put(ctx context.Context, key string, entry Entry) error {
	if key == "" {
		return ErrInvalidInput
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	query := fmt.Sprintf(`
		INSERT INTO %s (partition, key, entry)
		VALUES ($1, $2, $3)
		ON CONFLICT (partition, key)
		DO UPDATE SET entry = EXCLUDED.entry`, postgresQuoteIdentifier(p.store.entriesTable))
	if _, err := p.store.db.ExecContext(opCtx, query, p.name, key, string(payload)); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (p *postgresPartition) Delete(ctx context.Context, key string) (bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	query := fmt.Sprintf(`DELETE FROM %s WHERE partition = $1 AND key = $2`,
		postgresQuoteIdentifier(p.store.entriesTable))
	res, err := p.store.db.ExecContext(opCtx, query, p.name, key)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return affected > 0, nil
}

func (p *postgresPartition) Keys(ctx context.Context) ([]string, error) {
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	query := fmt.Sprintf(`SELECT key FROM %s WHERE partition = $1 ORDER BY key`,
		postgresQuoteIdentifier(p.store.entriesTable))
	rows, err := p.store.db.QueryContext(opCtx, query, p.name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()
	keys := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return keys, nil
}

func postgresQuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
