package tracker

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"mp4bot"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// SQLiteStore persists tracking data to a local sqlite database.
type SQLiteStore struct {
	db  *sqlx.DB
	log *zap.SugaredLogger
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db, log: zap.S().Named("tracker.sqlite")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

var _ Store = &SQLiteStore{}

func (s *SQLiteStore) migrate() error {
	fs, err := iofs.New(embedMigrations, "migrations")
	if err != nil {
		return err
	}
	driver, err := sqlite3.WithInstance(s.db.DB, &sqlite3.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", fs, "sqlite3", driver)
	if err != nil {
		return err
	}
	err = m.Up()
	switch err {
	case nil:
		s.log.Info("database migration complete")
	case migrate.ErrNoChange:
		s.log.Debug("no database migration required")
	default:
		return err
	}
	return nil
}

type statRow struct {
	Timestamp time.Time `db:"timestamp"`
	Key       string    `db:"key"`
	SubKey    string    `db:"sub_key"`
	Value     int64     `db:"value"`
}

type recordRow struct {
	ItemType  mp4bot.ItemType `db:"item_type"`
	ItemID    string          `db:"item_id"`
	Subreddit string          `db:"subreddit"`
	Domain    string          `db:"domain"`
	Hostname  string          `db:"hostname"`
	GifLink   string          `db:"gif_link"`
	CreatedAt time.Time       `db:"created_at"`
	StartedAt time.Time       `db:"started_at"`
	EndedAt   time.Time       `db:"ended_at"`
	Status    Status          `db:"status"`

	Mp4Link        *string `db:"mp4_link"`
	Mp4DisplayLink *string `db:"mp4_display_link"`
	GifSize        *int64  `db:"gif_size"`
	Mp4Size        *int64  `db:"mp4_size"`
	WebmSize       *int64  `db:"webm_size"`
	FromCache      *bool   `db:"from_cache"`
	UploadTimeMs   *int64  `db:"upload_time_ms"`
	ErrorCode      *string `db:"error_code"`
	ErrorDetail    *string `db:"error_detail"`
	ErrorExtra     *string `db:"error_extra"`
}

func newRecordRow(r *Record) recordRow {
	row := recordRow{
		ItemType:       r.ItemType,
		ItemID:         r.ItemID,
		Subreddit:      r.Subreddit,
		Domain:         r.Domain,
		Hostname:       r.Hostname,
		GifLink:        r.GifLink,
		CreatedAt:      r.CreatedAt,
		StartedAt:      r.StartedAt,
		EndedAt:        r.EndedAt,
		Status:         r.Status,
		Mp4Link:        r.Mp4Link,
		Mp4DisplayLink: r.Mp4DisplayLink,
		GifSize:        r.GifSize,
		Mp4Size:        r.Mp4Size,
		WebmSize:       r.WebmSize,
		FromCache:      r.FromCache,
	}
	if r.UploadTime != nil {
		ms := r.UploadTime.Milliseconds()
		row.UploadTimeMs = &ms
	}
	if r.ErrorCode != nil {
		code := string(*r.ErrorCode)
		row.ErrorCode = &code
	}
	if r.ErrorDetail != nil {
		detail := string(*r.ErrorDetail)
		row.ErrorDetail = &detail
	}
	row.ErrorExtra = r.ErrorExtra
	return row
}

func (s *SQLiteStore) InsertStats(ctx context.Context, stats []StatEntry) error {
	if len(stats) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, stat := range stats {
		row := statRow(stat)
		if _, err := tx.NamedExec(
			`INSERT INTO stat (timestamp, key, sub_key, value) VALUES (:timestamp, :key, :sub_key, :value)`,
			&row,
		); err != nil {
			return fmt.Errorf("failed to insert stat %s/%s: %w", stat.Key, stat.SubKey, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) InsertRecords(ctx context.Context, records []*Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, record := range records {
		row := newRecordRow(record)
		if _, err := tx.NamedExec(
			`INSERT INTO item_record (
				item_type, item_id, subreddit, domain, hostname, gif_link,
				created_at, started_at, ended_at, status,
				mp4_link, mp4_display_link, gif_size, mp4_size, webm_size,
				from_cache, upload_time_ms, error_code, error_detail, error_extra
			) VALUES (
				:item_type, :item_id, :subreddit, :domain, :hostname, :gif_link,
				:created_at, :started_at, :ended_at, :status,
				:mp4_link, :mp4_display_link, :gif_size, :mp4_size, :webm_size,
				:from_cache, :upload_time_ms, :error_code, :error_detail, :error_extra
			)`,
			&row,
		); err != nil {
			return fmt.Errorf("failed to insert record for item %s: %w", record.ItemID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
