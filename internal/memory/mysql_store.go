package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "AgentWarden/internal/errors"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore 使用 MySQL 持久化 packet，作为记忆基座的落地实现之一。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 创建一个新的 MySQLStore。
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initSchema() error {
	const schema = `CREATE TABLE IF NOT EXISTS packets (
        id VARCHAR(64) PRIMARY KEY,
        packet_type VARCHAR(64) NOT NULL,
        thread_id VARCHAR(128) DEFAULT '',
        payload TEXT,
        metadata TEXT,
        created_at BIGINT NOT NULL,
        INDEX idx_packet_type (packet_type),
        INDEX idx_packet_thread (thread_id)
)`

	if _, err := s.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 packets 表失败")
	}
	return nil
}

// Write 追加一条 packet。
func (s *MySQLStore) Write(ctx context.Context, packetType string, payload map[string]any, metadata map[string]string) (string, error) {
	if packetType == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "packet 类型不能为空")
	}

	payloadValue, err := marshalJSON(payload)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码 packet payload 失败")
	}
	metadataValue, err := marshalJSON(metadata)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码 packet metadata 失败")
	}

	threadID := ""
	if metadata != nil {
		threadID = metadata["thread_id"]
	}

	id := uuid.NewString()
	const stmt = `INSERT INTO packets (id, packet_type, thread_id, payload, metadata, created_at)
        VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, stmt, id, packetType, threadID, payloadValue, metadataValue, time.Now().Unix()); err != nil {
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入 packet 失败")
	}
	return id, nil
}

// Search 按类型查询 packet，metadata 过滤在内存中完成。
func (s *MySQLStore) Search(ctx context.Context, packetType string, filter map[string]string) ([]*Packet, error) {
	const stmt = `SELECT id, packet_type, thread_id, payload, metadata, created_at
        FROM packets WHERE packet_type = ? ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, stmt, packetType)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询 packet 失败")
	}
	defer rows.Close()

	packets, err := scanPackets(rows)
	if err != nil {
		return nil, err
	}
	if len(filter) == 0 {
		return packets, nil
	}
	filtered := packets[:0]
	for _, p := range packets {
		if matchesMetadata(p, filter) {
			filtered = append(filtered, p)
		}
	}
	return filtered, nil
}

// SearchByThread 返回同一线索下的全部 packet。
func (s *MySQLStore) SearchByThread(ctx context.Context, threadID string) ([]*Packet, error) {
	const stmt = `SELECT id, packet_type, thread_id, payload, metadata, created_at
        FROM packets WHERE thread_id = ? ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, stmt, threadID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询 packet 线索失败")
	}
	defer rows.Close()
	return scanPackets(rows)
}

// Close 关闭数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func scanPackets(rows *sql.Rows) ([]*Packet, error) {
	var packets []*Packet
	for rows.Next() {
		var (
			p             Packet
			payloadValue  sql.NullString
			metadataValue sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.Type, &p.ThreadID, &payloadValue, &metadataValue, &p.CreatedAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取 packet 行失败")
		}
		if payloadValue.Valid && payloadValue.String != "" {
			if err := json.Unmarshal([]byte(payloadValue.String), &p.Payload); err != nil {
				return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解码 packet payload 失败")
			}
		}
		if metadataValue.Valid && metadataValue.String != "" {
			if err := json.Unmarshal([]byte(metadataValue.String), &p.Metadata); err != nil {
				return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解码 packet metadata 失败")
			}
		}
		packets = append(packets, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历 packet 行失败")
	}
	return packets, nil
}

func marshalJSON(value any) (sql.NullString, error) {
	if value == nil {
		return sql.NullString{}, nil
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(encoded), Valid: true}, nil
}

// ensure interface compliance at compile time
var _ Store = (*MySQLStore)(nil)
