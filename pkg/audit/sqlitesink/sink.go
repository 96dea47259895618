// Package sqlitesink は監査レコードをSQLiteに追記するaudit.Sinkを提供する。
//
// 追記のみで、更新や削除は行わない。保持期間の管理は運用側に任せる。
package sqlitesink

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nao1215/listing-gateway/pkg/audit"
	"github.com/nao1215/listing-gateway/pkg/migration"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Sink はSQLiteに監査レコードを書き込む。
type Sink struct {
	// db はSQLiteデータベース接続。
	db *sql.DB
}

// Open はpathのSQLiteデータベースを開き、スキーマを適用する。
func Open(ctx context.Context, path string) (*Sink, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	// SQLiteの書き込みは直列化する
	db.SetMaxOpenConns(1)

	if err := migration.Run(ctx, db, migrations, "migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}
	return &Sink{db: db}, nil
}

// Write は監査レコードを1行追記する。
func (s *Sink) Write(ctx context.Context, rec audit.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_records
			(request_id, phase, recorded_at, method, path, client_ip, status_code, duration_seconds, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID,
		string(rec.Phase),
		rec.Timestamp.UTC().Format(time.RFC3339Nano),
		rec.Method,
		rec.Path,
		rec.ClientAddr,
		rec.StatusCode,
		rec.Duration.Seconds(),
		rec.Error,
	)
	if err != nil {
		return fmt.Errorf("監査レコードの書き込みに失敗: %w", err)
	}
	return nil
}

// Close はデータベース接続を閉じる。
func (s *Sink) Close() error {
	return s.db.Close()
}
