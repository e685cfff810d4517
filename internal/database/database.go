package database

import (
	"context"
	"embed"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"pharmacy-favorites-sync/internal/config"
	"pharmacy-favorites-sync/internal/logger"
)

//go:embed migrations/mysql/*.sql migrations/sqlite/*.sql
var embedMigrations embed.FS

type Database struct {
	DB      *sqlx.DB
	Dialect string
}

// Open connects to the state storage described by cfg and applies pending
// migrations.
func Open(cfg config.StateStorage) (*Database, error) {
	switch cfg.Type {
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)
		return open("mysql", dsn, cfg)
	case "sqlite":
		return open("sqlite", cfg.FilePath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", cfg)
	}
	return nil, fmt.Errorf("unsupported state storage type %q", cfg.Type)
}

func open(driver, dsn string, cfg config.StateStorage) (*Database, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if driver == "sqlite" {
		// SQLite has a single writer.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(time.Hour)
	}

	d := &Database{DB: db, Dialect: driver}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Log.Info("Connected to state storage",
		zap.String("type", cfg.Type),
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database),
		zap.String("file", cfg.FilePath),
	)
	return d, nil
}

func (d *Database) migrate() error {
	gooseDialect := goose.DialectSQLite3
	if d.Dialect == "mysql" {
		gooseDialect = goose.DialectMySQL
	}

	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(string(gooseDialect)); err != nil {
		return fmt.Errorf("setting dialect for migrations: %w", err)
	}
	if err := goose.Up(d.DB.DB, "migrations/"+d.Dialect); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

func (d *Database) Close() error {
	return d.DB.Close()
}

// ExecTx executes a function within a transaction
func (d *Database) ExecTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := d.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx err: %v, rb err: %v", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}
