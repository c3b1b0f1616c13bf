// Package store persists posts and ingestion runs with gorm.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"go-posts/config"
	"go-posts/internal/model"
	"go-posts/internal/query"
)

var (
	ErrNotFound      = errors.New("post not found")
	ErrDuplicateLink = errors.New("post with this link already exists")
)

// sqliteDriver is go-sqlite3 with a Unicode-aware lower(). SQLite's builtin
// LOWER and LIKE only fold ASCII letters.
const sqliteDriver = "sqlite3_unicode"

func init() {
	sql.Register(sqliteDriver, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("unicode_lower", strings.ToLower, true)
		},
	})
}

type Store struct {
	db *gorm.DB
	// SQL function used to lower-case columns for search
	lower string
}

// Open connects to the configured database and migrates the schema.
func Open(cfg config.DatabaseConfig) (*Store, error) {
	var (
		dialector gorm.Dialector
		lower     string
	)

	switch cfg.Driver {
	case config.DriverSQLite:
		if err := ensureDir(cfg.DSN); err != nil {
			return nil, err
		}
		dialector = sqlite.New(sqlite.Config{
			DriverName: sqliteDriver,
			DSN:        sqliteDSN(cfg.DSN),
		})
		lower = "unicode_lower"
	case config.DriverPostgres:
		dialector = postgres.Open(cfg.DSN)
		lower = "LOWER"
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger: logger.New(log.StandardLogger(), logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if cfg.Driver == config.DriverSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("get sql.DB: %w", err)
		}
		// SQLite only supports one writer at a time
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	if err := db.AutoMigrate(&model.Post{}, &model.IngestionRun{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	log.WithFields(log.Fields{
		"driver": cfg.Driver,
	}).Info("Database is ready")

	return &Store{db: db, lower: lower}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Create inserts c. A post with the same link yields ErrDuplicateLink.
func (s *Store) Create(ctx context.Context, c model.CandidatePost) (model.Post, error) {
	post := c.Post()
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "link"}},
			DoNothing: true,
		}).
		Create(&post)
	if result.Error != nil {
		return model.Post{}, translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return model.Post{}, ErrDuplicateLink
	}
	return post, nil
}

// FindMany returns the page of posts described by d.
func (s *Store) FindMany(ctx context.Context, d query.Descriptor) ([]model.Post, error) {
	posts := make([]model.Post, 0, d.Limit)

	err := s.db.WithContext(ctx).
		Scopes(s.wherePredicate(d.Predicate), orderBy(d.Order)).
		Offset(d.Offset).
		Limit(d.Limit).
		Find(&posts).Error
	if err != nil {
		return nil, fmt.Errorf("find posts: %w", err)
	}
	return posts, nil
}

// Count returns the number of posts matching p, ignoring pagination.
func (s *Store) Count(ctx context.Context, p query.Predicate) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).
		Model(&model.Post{}).
		Scopes(s.wherePredicate(p)).
		Count(&total).Error
	if err != nil {
		return 0, fmt.Errorf("count posts: %w", err)
	}
	return total, nil
}

func (s *Store) FindByID(ctx context.Context, id uint) (model.Post, error) {
	var post model.Post
	if err := s.db.WithContext(ctx).First(&post, id).Error; err != nil {
		return model.Post{}, translate(err)
	}
	return post, nil
}

// Update applies patch to the post with the given id and returns the result.
func (s *Store) Update(ctx context.Context, id uint, patch model.PostPatch) (model.Post, error) {
	var post model.Post

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&post, id).Error; err != nil {
			return err
		}
		patch.Apply(&post)
		return tx.Save(&post).Error
	})
	if err != nil {
		return model.Post{}, translate(err)
	}
	return post, nil
}

// Delete removes the post with the given id and returns it.
func (s *Store) Delete(ctx context.Context, id uint) (model.Post, error) {
	var post model.Post

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&post, id).Error; err != nil {
			return err
		}
		return tx.Delete(&post).Error
	})
	if err != nil {
		return model.Post{}, translate(err)
	}
	return post, nil
}

func (s *Store) RecordRun(ctx context.Context, run *model.IngestionRun) error {
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("record ingestion run: %w", err)
	}
	return nil
}

// LastRun returns the most recent ingestion run, or nil when none exists.
func (s *Store) LastRun(ctx context.Context) (*model.IngestionRun, error) {
	var runs []model.IngestionRun
	err := s.db.WithContext(ctx).
		Order("started_at DESC").
		Order("id DESC").
		Limit(1).
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("find last ingestion run: %w", err)
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

func (s *Store) wherePredicate(p query.Predicate) func(*gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		if p.Search != "" {
			pattern := query.ContainsPattern(p.Search)
			contains := lo.Map(query.SearchFields, func(f query.Field, _ int) clause.Expression {
				return clause.Expr{
					SQL:  s.lower + `(?) LIKE ? ESCAPE '\'`,
					Vars: []any{clause.Column{Name: f.Column()}, pattern},
				}
			})
			tx = tx.Where(clause.Or(contains...))
		}

		for _, m := range p.Equals {
			tx = tx.Where(clause.Eq{Column: clause.Column{Name: m.Field.Column()}, Value: m.Value})
		}
		return tx
	}
}

func orderBy(o *query.Order) func(*gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		id := clause.OrderByColumn{Column: clause.Column{Name: query.FieldID.Column()}}
		if o == nil {
			return tx.Order(id)
		}

		tx = tx.Order(clause.OrderByColumn{
			Column: clause.Column{Name: o.Field.Column()},
			Desc:   o.Desc,
		})
		if o.Field != query.FieldID {
			// Stable pages when sort values tie
			tx = tx.Order(id)
		}
		return tx
	}
}

func translate(err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey), isUniqueViolation(err):
		return ErrDuplicateLink
	default:
		return err
	}
}

// isUniqueViolation covers driver errors that gorm did not translate.
func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "SQLSTATE 23505")
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_busy_timeout=5000&_journal_mode=WAL"
}

func ensureDir(path string) error {
	if path == "" || strings.HasPrefix(path, "file:") || strings.Contains(path, ":memory:") {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create database directory: %w", err)
	}
	return nil
}
