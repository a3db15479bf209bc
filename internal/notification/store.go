package notification

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/nao1215/aptnotify/pkg/migration"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// ErrNotFound は指定された通知が存在しないことを表す。
var ErrNotFound = errors.New("通知が見つかりません")

// Store は通知レコードの永続化を担う。
// 各メソッドは単一行またはバッチ単位でアトミックに実行される。
type Store interface {
	// InsertOne は通知を1件作成する。
	InsertOne(ctx context.Context, n NewNotification) (Notification, error)
	// InsertMany は通知をまとめて作成する。全件成功するか、1件も作成されないかのどちらか。
	InsertMany(ctx context.Context, items []NewNotification) ([]Notification, error)
	// FindPageByOwner はユーザーの通知を新しい順にoffsetからlimit件返し、総件数も返す。
	FindPageByOwner(ctx context.Context, userID int64, offset, limit int) ([]Notification, int, error)
	// FindUnreadByOwner はユーザーの未読通知を新しい順に返す。
	// sinceを指定するとそれより後に作成されたものに限る。
	FindUnreadByOwner(ctx context.Context, userID int64, since *time.Time) ([]Notification, error)
	// FindByID は通知を1件返す。存在しない場合は ErrNotFound を返す。
	FindByID(ctx context.Context, id int64) (Notification, error)
	// UpdateCheckedIfOwner は所有者が一致する場合に限り通知を既読にし、更新件数を返す。
	UpdateCheckedIfOwner(ctx context.Context, id, userID int64) (int64, error)
	// UpdateAllCheckedByOwner はユーザーの未読通知をすべて既読にし、更新件数を返す。
	UpdateAllCheckedByOwner(ctx context.Context, userID int64) (int64, error)
	// DeleteIfOwner は所有者が一致する場合に限り通知を削除し、削除件数を返す。
	DeleteIfOwner(ctx context.Context, id, userID int64) (int64, error)
	// CountUnreadByOwner はユーザーの未読通知の件数を返す。
	CountUnreadByOwner(ctx context.Context, userID int64) (int, error)
	// Ping は保存先への疎通を確認する。
	Ping(ctx context.Context) error
}

// SQLiteStore はSQLiteによるStoreの実装。
type SQLiteStore struct {
	// db はSQLiteデータベース接続。
	db *sqlx.DB
	// now は作成日時の取得に使う時計。テストで差し替える。
	now func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// row はnotificationsテーブルの1行。
type row struct {
	ID        int64  `db:"id"`
	UserID    int64  `db:"user_id"`
	Content   string `db:"content"`
	Checked   bool   `db:"checked"`
	CreatedAt int64  `db:"created_at"`
}

func (r row) toNotification() Notification {
	return Notification{
		ID:        r.ID,
		UserID:    r.UserID,
		Content:   r.Content,
		Checked:   r.Checked,
		CreatedAt: time.UnixMicro(r.CreatedAt).UTC(),
	}
}

func toNotifications(rows []row) []Notification {
	notifications := make([]Notification, 0, len(rows))
	for _, r := range rows {
		notifications = append(notifications, r.toNotification())
	}
	return notifications
}

// OpenSQLiteStore はSQLiteデータベースを開き、未適用のマイグレーションを適用する。
// pathに ":memory:" を指定するとインメモリデータベースになる。
func OpenSQLiteStore(ctx context.Context, path string, logger *zap.Logger) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	// インメモリDBは接続ごとに別のDBになるため、接続を1本に固定する
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("データベース接続の確認に失敗: %w", err)
	}

	if _, err := migration.Run(ctx, db.DB, migrationFS, "migrations", logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("マイグレーションに失敗: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close はデータベース接続を閉じる。
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping はデータベースへの疎通を確認する。
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const insertQuery = `INSERT INTO notifications (user_id, content, checked, created_at) VALUES (?, ?, 0, ?)`

// InsertOne は通知を1件作成する。
func (s *SQLiteStore) InsertOne(ctx context.Context, n NewNotification) (Notification, error) {
	createdAt := s.timestamp()
	res, err := s.db.ExecContext(ctx, insertQuery, n.UserID, n.Content, createdAt.UnixMicro())
	if err != nil {
		return Notification{}, fmt.Errorf("通知の作成に失敗: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Notification{}, fmt.Errorf("通知IDの取得に失敗: %w", err)
	}
	return Notification{
		ID:        id,
		UserID:    n.UserID,
		Content:   n.Content,
		CreatedAt: createdAt,
	}, nil
}

// InsertMany は通知を1トランザクションでまとめて作成する。
// 戻り値の順序は入力の順序と一致する。
func (s *SQLiteStore) InsertMany(ctx context.Context, items []NewNotification) ([]Notification, error) {
	if len(items) == 0 {
		return []Notification{}, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("トランザクションの開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PreparexContext(ctx, insertQuery)
	if err != nil {
		return nil, fmt.Errorf("INSERT文の準備に失敗: %w", err)
	}
	defer stmt.Close()

	createdAt := s.timestamp()
	created := make([]Notification, 0, len(items))
	for i, n := range items {
		res, err := stmt.ExecContext(ctx, n.UserID, n.Content, createdAt.UnixMicro())
		if err != nil {
			return nil, fmt.Errorf("%d件目の通知の作成に失敗: %w", i+1, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("通知IDの取得に失敗: %w", err)
		}
		created = append(created, Notification{
			ID:        id,
			UserID:    n.UserID,
			Content:   n.Content,
			CreatedAt: createdAt,
		})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("トランザクションのコミットに失敗: %w", err)
	}
	return created, nil
}

// FindPageByOwner はユーザーの通知を新しい順にoffsetからlimit件返し、総件数も返す。
func (s *SQLiteStore) FindPageByOwner(ctx context.Context, userID int64, offset, limit int) ([]Notification, int, error) {
	var total int
	if err := s.db.GetContext(ctx, &total,
		`SELECT COUNT(*) FROM notifications WHERE user_id = ?`, userID,
	); err != nil {
		return nil, 0, fmt.Errorf("通知件数の取得に失敗: %w", err)
	}

	var rows []row
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, user_id, content, checked, created_at
		FROM notifications
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`,
		userID, limit, offset,
	); err != nil {
		return nil, 0, fmt.Errorf("通知一覧の取得に失敗: %w", err)
	}
	return toNotifications(rows), total, nil
}

// FindUnreadByOwner はユーザーの未読通知を新しい順に返す。
func (s *SQLiteStore) FindUnreadByOwner(ctx context.Context, userID int64, since *time.Time) ([]Notification, error) {
	query := `
		SELECT id, user_id, content, checked, created_at
		FROM notifications
		WHERE user_id = ? AND checked = 0`
	args := []any{userID}
	if since != nil {
		query += ` AND created_at > ?`
		args = append(args, since.UnixMicro())
	}
	query += ` ORDER BY created_at DESC, id DESC`

	var rows []row
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("未読通知の取得に失敗: %w", err)
	}
	return toNotifications(rows), nil
}

// FindByID は通知を1件返す。
func (s *SQLiteStore) FindByID(ctx context.Context, id int64) (Notification, error) {
	var r row
	err := s.db.GetContext(ctx, &r,
		`SELECT id, user_id, content, checked, created_at FROM notifications WHERE id = ?`, id,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Notification{}, ErrNotFound
	}
	if err != nil {
		return Notification{}, fmt.Errorf("通知の取得に失敗: %w", err)
	}
	return r.toNotification(), nil
}

// UpdateCheckedIfOwner は所有者が一致する場合に限り通知を既読にする。
// 既読済みの通知も更新対象として数える。
func (s *SQLiteStore) UpdateCheckedIfOwner(ctx context.Context, id, userID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET checked = 1 WHERE id = ? AND user_id = ?`, id, userID,
	)
	if err != nil {
		return 0, fmt.Errorf("通知の既読処理に失敗: %w", err)
	}
	return rowsAffected(res)
}

// UpdateAllCheckedByOwner はユーザーの未読通知をすべて既読にする。
func (s *SQLiteStore) UpdateAllCheckedByOwner(ctx context.Context, userID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET checked = 1 WHERE user_id = ? AND checked = 0`, userID,
	)
	if err != nil {
		return 0, fmt.Errorf("全通知の既読処理に失敗: %w", err)
	}
	return rowsAffected(res)
}

// DeleteIfOwner は所有者が一致する場合に限り通知を削除する。
func (s *SQLiteStore) DeleteIfOwner(ctx context.Context, id, userID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE id = ? AND user_id = ?`, id, userID,
	)
	if err != nil {
		return 0, fmt.Errorf("通知の削除に失敗: %w", err)
	}
	return rowsAffected(res)
}

// CountUnreadByOwner はユーザーの未読通知の件数を返す。
func (s *SQLiteStore) CountUnreadByOwner(ctx context.Context, userID int64) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM notifications WHERE user_id = ? AND checked = 0`, userID,
	); err != nil {
		return 0, fmt.Errorf("未読件数の取得に失敗: %w", err)
	}
	return count, nil
}

// timestamp はマイクロ秒に丸めたUTCの現在時刻を返す。DBに保存する精度と揃える。
func (s *SQLiteStore) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func rowsAffected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("更新件数の取得に失敗: %w", err)
	}
	return n, nil
}
