package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const defaultConnTimeout = 5 * time.Second

// poolConfig задаёт параметры пула подключений.
type poolConfig struct {
	maxOpenConns    int
	maxIdleConns    int
	connMaxLifetime time.Duration
	connMaxIdleTime time.Duration
	connTimeout     time.Duration
}

// StoreOption настраивает пул подключений Store.
type StoreOption func(*poolConfig)

// WithMaxConns задаёт максимум открытых и простаивающих подключений.
func WithMaxConns(open, idle int) StoreOption {
	return func(cfg *poolConfig) {
		cfg.maxOpenConns = open
		cfg.maxIdleConns = idle
	}
}

// WithConnLifetimes задаёт максимальное время жизни и простоя подключения.
func WithConnLifetimes(lifetime, idleTime time.Duration) StoreOption {
	return func(cfg *poolConfig) {
		cfg.connMaxLifetime = lifetime
		cfg.connMaxIdleTime = idleTime
	}
}

// WithConnTimeout задаёт таймаут ping при открытии и health-проверках.
func WithConnTimeout(timeout time.Duration) StoreOption {
	return func(cfg *poolConfig) {
		cfg.connTimeout = timeout
	}
}

// Store оборачивает пул SQL-подключений к PostgreSQL.
type Store struct {
	db          *sql.DB
	pingTimeout time.Duration
}

// Open открывает пул подключений и проверяет доступность базы.
func Open(ctx context.Context, dsn string, options ...StoreOption) (*Store, error) {
	cfg := poolConfig{
		maxOpenConns:    25,
		maxIdleConns:    25,
		connMaxLifetime: 30 * time.Minute,
		connMaxIdleTime: 5 * time.Minute,
		connTimeout:     defaultConnTimeout,
	}
	for _, option := range options {
		option(&cfg)
	}
	if cfg.connTimeout <= 0 {
		cfg.connTimeout = defaultConnTimeout
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(cfg.maxOpenConns)
	db.SetMaxIdleConns(cfg.maxIdleConns)
	db.SetConnMaxLifetime(cfg.connMaxLifetime)
	db.SetConnMaxIdleTime(cfg.connMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.connTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Store{db: db, pingTimeout: cfg.connTimeout}, nil
}

// DB возвращает raw SQL DB, когда нужен низкоуровневый доступ.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping проверяет доступность подключения.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres store is not initialized")
	}

	pingCtx, cancel := context.WithTimeout(ctx, s.pingTimeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// EnsureSchema применяет все up-миграции.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}

// Close закрывает пул подключений.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
