package catalog

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/eteran/cellar/internal/storage"
)

var (
	//go:embed migrations
	migrationsFS embed.FS
)

const objectColumns = `bucket, key, handle, size, etag, content_type, modified_at`

// SQLite is a Catalog backed by a SQLite database in WAL mode. Each mutation
// runs in its own immediate transaction.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the catalog database at path and
// applies the embedded migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("catalog: db path must not be empty")
	}

	db, err := sql.Open(driverName, dataSourceName(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := initSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLite{db: db}, nil
}

// initSchema initializes the metadata database schema by applying all
// SQL files in the embedded migrations in lexicographical order.
func initSchema(ctx context.Context, db *sql.DB) error {
	return fs.WalkDir(migrationsFS, "migrations", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		content, readError := migrationsFS.ReadFile(path)
		if readError != nil {
			return fmt.Errorf("error reading SQL file: %w", readError)
		}

		slog.Debug("Running migration", "path", path)
		if _, execError := db.ExecContext(ctx, string(content)); execError != nil {
			return fmt.Errorf("apply migration %s: %w", path, execError)
		}
		return nil
	})
}

// withTransaction runs a function within a database transaction.
func withTransaction(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return fmt.Errorf("error executing transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}

	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBucket(row rowScanner) (BucketRecord, error) {
	var (
		rec     BucketRecord
		created string
	)
	if err := row.Scan(&rec.Name, &rec.ID, &rec.Owner, &created); err != nil {
		return BucketRecord{}, err
	}

	t, err := parseTime(created)
	if err != nil {
		return BucketRecord{}, err
	}
	rec.CreatedAt = t
	return rec, nil
}

func scanObject(row rowScanner) (ObjectRecord, error) {
	var (
		rec      ObjectRecord
		handle   string
		modified string
	)
	if err := row.Scan(&rec.Bucket, &rec.Key, &handle, &rec.Size, &rec.ETag, &rec.ContentType, &modified); err != nil {
		return ObjectRecord{}, err
	}

	t, err := parseTime(modified)
	if err != nil {
		return ObjectRecord{}, err
	}
	rec.Handle = storage.Handle(handle)
	rec.LastModified = t
	return rec, nil
}

func (s *SQLite) CreateBucket(ctx context.Context, rec BucketRecord) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO buckets(name, id, owner, created_at) VALUES(?, ?, ?, ?)`,
		rec.Name, rec.ID, rec.Owner, formatTime(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert bucket: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert bucket: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrBucketExists, rec.Name)
	}
	return nil
}

func (s *SQLite) GetBucket(ctx context.Context, name string) (BucketRecord, error) {
	rec, err := scanBucket(s.db.QueryRowContext(ctx,
		`SELECT name, id, owner, created_at FROM buckets WHERE name = ?`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return BucketRecord{}, fmt.Errorf("%w: %s", ErrBucketNotFound, name)
	}
	if err != nil {
		return BucketRecord{}, fmt.Errorf("lookup bucket: %w", err)
	}
	return rec, nil
}

func (s *SQLite) ListBuckets(ctx context.Context, owner string) ([]BucketRecord, error) {
	query := `SELECT name, id, owner, created_at FROM buckets`
	var args []any
	if owner != "" {
		query += ` WHERE owner = ?`
		args = append(args, owner)
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}
	defer rows.Close()

	buckets := []BucketRecord{}
	for rows.Next() {
		rec, err := scanBucket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		buckets = append(buckets, rec)
	}
	return buckets, rows.Err()
}

func (s *SQLite) DeleteBucket(ctx context.Context, name string) error {
	return withTransaction(ctx, s.db, func(tx *sql.Tx) error {
		if err := bucketExistsTx(ctx, tx, name); err != nil {
			return err
		}

		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM objects WHERE bucket = ?`, name).Scan(&count); err != nil {
			return fmt.Errorf("count objects: %w", err)
		}
		if count > 0 {
			return fmt.Errorf("%w: %s holds %d objects", ErrBucketNotEmpty, name, count)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM buckets WHERE name = ?`, name); err != nil {
			return fmt.Errorf("delete bucket: %w", err)
		}
		return nil
	})
}

func bucketExistsTx(ctx context.Context, tx *sql.Tx, name string) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM buckets WHERE name = ?`, name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrBucketNotFound, name)
	}
	if err != nil {
		return fmt.Errorf("lookup bucket: %w", err)
	}
	return nil
}

func (s *SQLite) PutObject(ctx context.Context, rec ObjectRecord) (*ObjectRecord, error) {
	var prev *ObjectRecord

	err := withTransaction(ctx, s.db, func(tx *sql.Tx) error {
		if err := bucketExistsTx(ctx, tx, rec.Bucket); err != nil {
			return err
		}

		old, err := scanObject(tx.QueryRowContext(ctx,
			`SELECT `+objectColumns+` FROM objects WHERE bucket = ? AND key = ?`, rec.Bucket, rec.Key))
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("lookup object: %w", err)
		default:
			prev = &old
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO objects(`+objectColumns+`)
			 VALUES(?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(bucket, key) DO UPDATE SET
			 	handle=excluded.handle,
			 	size=excluded.size,
			 	etag=excluded.etag,
			 	content_type=excluded.content_type,
			 	modified_at=excluded.modified_at`,
			rec.Bucket, rec.Key, string(rec.Handle), rec.Size, rec.ETag, rec.ContentType, formatTime(rec.LastModified),
		)
		if err != nil {
			return fmt.Errorf("upsert object: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return prev, nil
}

// lookupObject distinguishes a missing bucket from a missing key in a single
// statement.
func lookupObject(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, bucket string, key string) (ObjectRecord, error) {
	var (
		objBucket, objKey, handle, etag, contentType, modified sql.NullString
		size                                                   sql.NullInt64
	)

	err := q.QueryRowContext(ctx,
		`SELECT o.bucket, o.key, o.handle, o.size, o.etag, o.content_type, o.modified_at
		 FROM buckets b LEFT JOIN objects o ON o.bucket = b.name AND o.key = ?
		 WHERE b.name = ?`,
		key, bucket,
	).Scan(&objBucket, &objKey, &handle, &size, &etag, &contentType, &modified)
	if errors.Is(err, sql.ErrNoRows) {
		return ObjectRecord{}, fmt.Errorf("%w: %s", ErrBucketNotFound, bucket)
	}
	if err != nil {
		return ObjectRecord{}, fmt.Errorf("lookup object: %w", err)
	}
	if !objKey.Valid {
		return ObjectRecord{}, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, key)
	}

	t, err := parseTime(modified.String)
	if err != nil {
		return ObjectRecord{}, err
	}

	return ObjectRecord{
		Bucket:       objBucket.String,
		Key:          objKey.String,
		Handle:       storage.Handle(handle.String),
		Size:         size.Int64,
		ETag:         etag.String,
		ContentType:  contentType.String,
		LastModified: t,
	}, nil
}

func (s *SQLite) GetObject(ctx context.Context, bucket string, key string) (ObjectRecord, error) {
	return lookupObject(ctx, s.db, bucket, key)
}

// ListObjects checks the bucket and reads the range in two statements. A
// bucket removed in between can only have been empty, so the empty result
// is still a valid answer.
func (s *SQLite) ListObjects(ctx context.Context, bucket string, q ListQuery) ([]ObjectRecord, error) {
	if _, err := s.GetBucket(ctx, bucket); err != nil {
		return nil, err
	}

	limit := q.Limit
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+objectColumns+` FROM objects
		 WHERE bucket = ? AND key > ? AND substr(key, 1, length(?)) = ?
		 ORDER BY key LIMIT ?`,
		bucket, q.StartAfter, q.Prefix, q.Prefix, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	defer rows.Close()

	objects := []ObjectRecord{}
	for rows.Next() {
		rec, err := scanObject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan object: %w", err)
		}
		objects = append(objects, rec)
	}
	return objects, rows.Err()
}

func (s *SQLite) DeleteObject(ctx context.Context, bucket string, key string) (ObjectRecord, error) {
	var removed ObjectRecord

	err := withTransaction(ctx, s.db, func(tx *sql.Tx) error {
		rec, err := lookupObject(ctx, tx, bucket, key)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM objects WHERE bucket = ? AND key = ?`, bucket, key); err != nil {
			return fmt.Errorf("delete object: %w", err)
		}
		removed = rec
		return nil
	})
	if err != nil {
		return ObjectRecord{}, err
	}
	return removed, nil
}

func (s *SQLite) HandleRefs(ctx context.Context) (map[storage.Handle]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT handle, COUNT(*) FROM objects GROUP BY handle`)
	if err != nil {
		return nil, fmt.Errorf("count handle refs: %w", err)
	}
	defer rows.Close()

	refs := make(map[storage.Handle]int)
	for rows.Next() {
		var (
			handle string
			count  int
		)
		if err := rows.Scan(&handle, &count); err != nil {
			return nil, fmt.Errorf("scan handle refs: %w", err)
		}
		refs[storage.Handle(handle)] = count
	}
	return refs, rows.Err()
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
