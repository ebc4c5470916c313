package indexing

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sirupsen/logrus"
)

// program_limit_exceeded错误码，tsvector超过1MB时返回
const pgProgramLimitExceeded = "54000"

const pgSchema = `
CREATE TABLE IF NOT EXISTS indexed_documents (
	id                TEXT PRIMARY KEY,
	file_name         TEXT NOT NULL,
	content           TEXT NOT NULL,
	metadata          JSONB,
	file_size         BIGINT NOT NULL,
	processed_at      TIMESTAMPTZ NOT NULL,
	content_truncated BOOLEAN NOT NULL DEFAULT FALSE,
	full_content_size BIGINT NOT NULL,
	indexed_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	search_vector     TSVECTOR GENERATED ALWAYS AS (to_tsvector('simple', content)) STORED
);
CREATE INDEX IF NOT EXISTS indexed_documents_search_idx ON indexed_documents USING GIN (search_vector);
`

// PostgresBackend 基于PostgreSQL全文检索的后端
type PostgresBackend struct {
	db      *sql.DB
	maxSize int
	logger  *logrus.Logger
}

// NewPostgresBackend 连接数据库并确保表结构存在
func NewPostgresBackend(cfg Config) (Backend, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres dsn is empty")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if _, err := db.ExecContext(ctx, pgSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}

	return &PostgresBackend{db: db, maxSize: cfg.MaxDocumentSize, logger: logger}, nil
}

// Index 索引文档
func (p *PostgresBackend) Index(ctx context.Context, doc Document) (IndexResponse, error) {
	if doc == nil {
		return IndexResponse{}, ErrNilDocument
	}
	if p.maxSize > 0 && len(doc.Body()) > p.maxSize {
		return IndexResponse{Valid: false, Diagnostic: oversizeDiagnostic(len(doc.Body()), p.maxSize)}, nil
	}

	stored := newStoredDocument(uuid.New().String(), doc)
	metadata, err := json.Marshal(stored.Metadata)
	if err != nil {
		return IndexResponse{}, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	const q = `
		INSERT INTO indexed_documents
			(id, file_name, content, metadata, file_size, processed_at, content_truncated, full_content_size, indexed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = p.db.ExecContext(ctx, q,
		stored.ID, stored.FileName, stored.Content, metadata, stored.FileSize,
		stored.ProcessedAt, stored.ContentTruncated, stored.FullContentSize, stored.IndexedAt)
	if err != nil {
		// 内容超出数据库限制（如tsvector过大）时视为后端拒绝
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgProgramLimitExceeded {
			return IndexResponse{Valid: false, Diagnostic: pgErr.Message}, nil
		}
		return IndexResponse{}, fmt.Errorf("insert document: %w", err)
	}

	return IndexResponse{ID: stored.ID, Valid: true}, nil
}

// Get 获取文档
func (p *PostgresBackend) Get(ctx context.Context, id string) (*StoredDocument, error) {
	const q = `
		SELECT id, file_name, content, metadata, file_size, processed_at, content_truncated, full_content_size, indexed_at
		FROM indexed_documents WHERE id = $1
	`
	var (
		doc      StoredDocument
		metadata []byte
	)
	err := p.db.QueryRowContext(ctx, q, id).Scan(
		&doc.ID, &doc.FileName, &doc.Content, &metadata, &doc.FileSize,
		&doc.ProcessedAt, &doc.ContentTruncated, &doc.FullContentSize, &doc.IndexedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select document: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &doc, nil
}

// Search 全文检索，按相关度降序返回文档ID
func (p *PostgresBackend) Search(ctx context.Context, query string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	const q = `
		SELECT id FROM indexed_documents
		WHERE search_vector @@ plainto_tsquery('simple', $1)
		ORDER BY ts_rank(search_vector, plainto_tsquery('simple', $1)) DESC
		LIMIT $2
	`
	rows, err := p.db.QueryContext(ctx, q, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Delete 删除文档
func (p *PostgresBackend) Delete(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM indexed_documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

// Name 后端名称
func (p *PostgresBackend) Name() string {
	return BackendPostgres
}

// Close 关闭连接池
func (p *PostgresBackend) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

func init() {
	RegisterBackend(BackendPostgres, NewPostgresBackend)
}
