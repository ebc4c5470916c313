package indexing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// 文档键前缀
const badgerDocPrefix = "doc:"

// badgerLogger 将badger日志输出到logrus
type badgerLogger struct {
	logger *logrus.Logger
}

var _ badger.Logger = (*badgerLogger)(nil)

func (l *badgerLogger) Errorf(msg string, items ...interface{}) {
	l.logger.WithField("component", "badger").Errorf(msg, items...)
}

func (l *badgerLogger) Warningf(msg string, items ...interface{}) {
	l.logger.WithField("component", "badger").Warnf(msg, items...)
}

func (l *badgerLogger) Infof(msg string, items ...interface{}) {
	l.logger.WithField("component", "badger").Debugf(msg, items...)
}

func (l *badgerLogger) Debugf(msg string, items ...interface{}) {
	l.logger.WithField("component", "badger").Tracef(msg, items...)
}

// BadgerBackend 基于badger的嵌入式持久化后端
type BadgerBackend struct {
	db      *badger.DB
	maxSize int
	logger  *logrus.Logger
}

// NewBadgerBackend 创建badger后端，Path为空时使用内存模式
func NewBadgerBackend(cfg Config) (Backend, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	var opts badger.Options
	if cfg.Path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		// 确保目录存在
		if err := os.MkdirAll(cfg.Path, 0755); err != nil {
			return nil, fmt.Errorf("failed to create badger directory: %w", err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts.Logger = &badgerLogger{logger: logger}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &BadgerBackend{
		db:      db,
		maxSize: cfg.MaxDocumentSize,
		logger:  logger,
	}, nil
}

func badgerKey(id string) []byte {
	return []byte(badgerDocPrefix + id)
}

// Index 索引文档
func (b *BadgerBackend) Index(ctx context.Context, doc Document) (IndexResponse, error) {
	if doc == nil {
		return IndexResponse{}, ErrNilDocument
	}
	if b.db.IsClosed() {
		return IndexResponse{}, ErrBackendClosed
	}
	if b.maxSize > 0 && len(doc.Body()) > b.maxSize {
		return IndexResponse{Valid: false, Diagnostic: oversizeDiagnostic(len(doc.Body()), b.maxSize)}, nil
	}

	id := uuid.New().String()
	value, err := json.Marshal(newStoredDocument(id, doc))
	if err != nil {
		return IndexResponse{}, fmt.Errorf("failed to marshal document: %w", err)
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(id), value)
	})
	if err != nil {
		// badger对单个值大小有限制，超限时按后端拒绝处理
		if errors.Is(err, badger.ErrTxnTooBig) {
			return IndexResponse{Valid: false, Diagnostic: err.Error()}, nil
		}
		return IndexResponse{}, fmt.Errorf("failed to write document: %w", err)
	}

	return IndexResponse{ID: id, Valid: true}, nil
}

// Get 获取文档
func (b *BadgerBackend) Get(ctx context.Context, id string) (*StoredDocument, error) {
	var doc StoredDocument
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &doc)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	return &doc, nil
}

// Delete 删除文档
func (b *BadgerBackend) Delete(ctx context.Context, id string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(badgerKey(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrDocumentNotFound
			}
			return err
		}
		return txn.Delete(badgerKey(id))
	})
}

// Count 返回文档数量
func (b *BadgerBackend) Count() (int, error) {
	count := 0
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(badgerDocPrefix)
		iter := txn.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// Name 后端名称
func (b *BadgerBackend) Name() string {
	return BackendBadger
}

// Close 关闭数据库
func (b *BadgerBackend) Close() error {
	if b.db.IsClosed() {
		return nil
	}
	return b.db.Close()
}

func init() {
	RegisterBackend(BackendBadger, NewBadgerBackend)
}
