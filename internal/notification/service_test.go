package notification

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/nao1215/aptnotify/internal/sse"
	"github.com/nao1215/aptnotify/pkg/apperror"
	"github.com/nao1215/aptnotify/pkg/event"
)

// pushed はfakePusherが受け取った1回分の配信。
type pushed struct {
	userID int64
	msg    sse.Message
}

// fakePusher は配信内容を記録するPusher。resultで配信結果を指定する。
type fakePusher struct {
	mu     sync.Mutex
	sent   []pushed
	result sse.Delivery
}

func (p *fakePusher) SendToUser(userID int64, msg sse.Message) sse.Delivery {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, pushed{userID: userID, msg: msg})
	return p.result
}

func (p *fakePusher) calls() []pushed {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]pushed(nil), p.sent...)
}

// faultyStore は一部の操作を失敗させるStore。
type faultyStore struct {
	Store
	insertErr     error
	findUnreadErr error
	pingErr       error
	zeroAffected  bool
}

func (s *faultyStore) InsertOne(ctx context.Context, n NewNotification) (Notification, error) {
	if s.insertErr != nil {
		return Notification{}, s.insertErr
	}
	return s.Store.InsertOne(ctx, n)
}

func (s *faultyStore) InsertMany(ctx context.Context, items []NewNotification) ([]Notification, error) {
	if s.insertErr != nil {
		return nil, s.insertErr
	}
	return s.Store.InsertMany(ctx, items)
}

func (s *faultyStore) FindUnreadByOwner(ctx context.Context, userID int64, since *time.Time) ([]Notification, error) {
	if s.findUnreadErr != nil {
		return nil, s.findUnreadErr
	}
	return s.Store.FindUnreadByOwner(ctx, userID, since)
}

func (s *faultyStore) Ping(ctx context.Context) error {
	if s.pingErr != nil {
		return s.pingErr
	}
	return s.Store.Ping(ctx)
}

func (s *faultyStore) UpdateCheckedIfOwner(ctx context.Context, id, userID int64) (int64, error) {
	if s.zeroAffected {
		return 0, nil
	}
	return s.Store.UpdateCheckedIfOwner(ctx, id, userID)
}

func newTestService(t *testing.T, store Store, result sse.Delivery) (*Service, *fakePusher) {
	t.Helper()
	pusher := &fakePusher{result: result}
	return NewService(store, pusher, zaptest.NewLogger(t)), pusher
}

func payload(t *testing.T, p pushed) []Notification {
	t.Helper()
	items, ok := p.msg.Data.([]Notification)
	if !ok {
		t.Fatalf("配信データの型が不正: %T", p.msg.Data)
	}
	return items
}

func TestServiceCreate(t *testing.T) {
	t.Parallel()

	t.Run("永続化した通知をalarmとして配信すること", func(t *testing.T) {
		t.Parallel()
		svc, pusher := newTestService(t, newTestStore(t), sse.Delivered)

		n, err := svc.Create(t.Context(), 1, "新しいお知らせがあります")
		if err != nil {
			t.Fatalf("Create()でエラーが発生: %v", err)
		}

		calls := pusher.calls()
		if len(calls) != 1 {
			t.Fatalf("配信回数 = %d, want 1", len(calls))
		}
		if calls[0].userID != 1 || calls[0].msg.Type != "alarm" {
			t.Errorf("配信 = %+v", calls[0])
		}
		items := payload(t, calls[0])
		if len(items) != 1 || items[0].ID != n.ID {
			t.Errorf("配信データ = %+v, want [%d]", items, n.ID)
		}
	})

	t.Run("配信に失敗しても作成は成功し一覧から取得できること", func(t *testing.T) {
		t.Parallel()
		svc, _ := newTestService(t, newTestStore(t), sse.WriteFailed)

		n, err := svc.Create(t.Context(), 1, "x")
		if err != nil {
			t.Fatalf("Create()でエラーが発生: %v", err)
		}

		page, err := svc.FindAll(t.Context(), 1, 1, 20)
		if err != nil {
			t.Fatalf("FindAll()でエラーが発生: %v", err)
		}
		if len(page.Items) != 1 || page.Items[0].ID != n.ID {
			t.Errorf("FindAll() = %+v", page)
		}
	})

	t.Run("オフラインでも作成は成功すること", func(t *testing.T) {
		t.Parallel()
		svc, _ := newTestService(t, newTestStore(t), sse.Offline)

		if _, err := svc.Create(t.Context(), 1, "x"); err != nil {
			t.Fatalf("Create()でエラーが発生: %v", err)
		}
		if count, _ := svc.UnreadCount(t.Context(), 1); count != 1 {
			t.Errorf("UnreadCount() = %d, want 1", count)
		}
	})

	t.Run("永続化に失敗した場合はエラーを返し配信しないこと", func(t *testing.T) {
		t.Parallel()
		store := &faultyStore{Store: newTestStore(t), insertErr: errors.New("disk I/O error")}
		svc, pusher := newTestService(t, store, sse.Delivered)

		_, err := svc.Create(t.Context(), 1, "x")
		if err == nil {
			t.Fatal("エラーが返されるべき")
		}
		if got := apperror.StatusOf(err); got != http.StatusInternalServerError {
			t.Errorf("StatusOf() = %d, want %d", got, http.StatusInternalServerError)
		}
		if len(pusher.calls()) != 0 {
			t.Error("永続化に失敗した通知が配信されている")
		}
	})
}

func TestServiceCreateMany(t *testing.T) {
	t.Parallel()

	t.Run("ユーザーごとに自分宛ての通知だけを1回ずつ配信すること", func(t *testing.T) {
		t.Parallel()
		svc, pusher := newTestService(t, newTestStore(t), sse.Delivered)

		created, err := svc.CreateMany(t.Context(), []NewNotification{
			{UserID: 1, Content: "a"},
			{UserID: 2, Content: "b"},
			{UserID: 1, Content: "c"},
		})
		if err != nil {
			t.Fatalf("CreateMany()でエラーが発生: %v", err)
		}
		if len(created) != 3 {
			t.Fatalf("作成件数 = %d, want 3", len(created))
		}

		calls := pusher.calls()
		if len(calls) != 2 {
			t.Fatalf("配信回数 = %d, want 2", len(calls))
		}
		// 最初に現れたユーザーから順に配信される
		if calls[0].userID != 1 || calls[1].userID != 2 {
			t.Errorf("配信順 = [%d %d], want [1 2]", calls[0].userID, calls[1].userID)
		}
		if got := contents(payload(t, calls[0])); len(got) != 2 || got[0] != "a" || got[1] != "c" {
			t.Errorf("ユーザー1への配信 = %v, want [a c]", got)
		}
		if got := contents(payload(t, calls[1])); len(got) != 1 || got[0] != "b" {
			t.Errorf("ユーザー2への配信 = %v, want [b]", got)
		}
	})

	t.Run("永続化に失敗した場合は1件も配信しないこと", func(t *testing.T) {
		t.Parallel()
		store := &faultyStore{Store: newTestStore(t), insertErr: errors.New("constraint failed")}
		svc, pusher := newTestService(t, store, sse.Delivered)

		if _, err := svc.CreateMany(t.Context(), []NewNotification{{UserID: 1, Content: "a"}}); err == nil {
			t.Fatal("エラーが返されるべき")
		}
		if len(pusher.calls()) != 0 {
			t.Error("永続化に失敗した通知が配信されている")
		}
	})
}

func TestServiceFindAll(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	insertN(t, store, 1, 25)
	svc, _ := newTestService(t, store, sse.Offline)

	tests := []struct {
		name        string
		page        int
		limit       int
		wantFirst   string
		wantLen     int
		wantHasNext bool
	}{
		{name: "2ページ目は11番目から20番目に新しい通知を返すこと", page: 2, limit: 10, wantFirst: "n15", wantLen: 10, wantHasNext: true},
		{name: "最終ページは残りを返し次ページが無いこと", page: 3, limit: 10, wantFirst: "n5", wantLen: 5, wantHasNext: false},
		{name: "範囲外のページは空を返すこと", page: 4, limit: 10, wantLen: 0, wantHasNext: false},
		{name: "件数ちょうどのページは次ページが無いこと", page: 1, limit: 25, wantFirst: "n25", wantLen: 25, wantHasNext: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			page, err := svc.FindAll(t.Context(), 1, tt.page, tt.limit)
			if err != nil {
				t.Fatalf("FindAll()でエラーが発生: %v", err)
			}
			if page.Total != 25 {
				t.Errorf("Total = %d, want 25", page.Total)
			}
			if len(page.Items) != tt.wantLen {
				t.Fatalf("len(Items) = %d, want %d", len(page.Items), tt.wantLen)
			}
			if tt.wantLen > 0 && page.Items[0].Content != tt.wantFirst {
				t.Errorf("Items[0] = %q, want %q", page.Items[0].Content, tt.wantFirst)
			}
			if page.HasNext != tt.wantHasNext {
				t.Errorf("HasNext = %v, want %v", page.HasNext, tt.wantHasNext)
			}
		})
	}
}

func TestServiceMarkAsRead(t *testing.T) {
	t.Parallel()

	t.Run("所有者は既読にでき再度の既読も成功すること", func(t *testing.T) {
		t.Parallel()
		store := newTestStore(t)
		created := insertN(t, store, 1, 2)
		svc, _ := newTestService(t, store, sse.Offline)

		for range 2 {
			if err := svc.MarkAsRead(t.Context(), created[0].ID, 1); err != nil {
				t.Fatalf("MarkAsRead()でエラーが発生: %v", err)
			}
		}
		n, _ := store.FindByID(t.Context(), created[0].ID)
		if !n.Checked {
			t.Error("既読になっていない")
		}
		unread, err := svc.FindUnread(t.Context(), 1, nil)
		if err != nil {
			t.Fatalf("FindUnread()でエラーが発生: %v", err)
		}
		for _, u := range unread {
			if u.ID == created[0].ID {
				t.Error("既読にした通知が未読一覧に含まれている")
			}
		}
	})

	t.Run("所有者でない場合はForbiddenで既読状態を変えないこと", func(t *testing.T) {
		t.Parallel()
		store := newTestStore(t)
		created := insertN(t, store, 1, 1)
		svc, _ := newTestService(t, store, sse.Offline)

		err := svc.MarkAsRead(t.Context(), created[0].ID, 2)
		if got := apperror.StatusOf(err); got != http.StatusForbidden {
			t.Errorf("StatusOf() = %d, want %d", got, http.StatusForbidden)
		}
		n, _ := store.FindByID(t.Context(), created[0].ID)
		if n.Checked {
			t.Error("所有者でないユーザーの操作で既読になっている")
		}
	})

	t.Run("存在しない場合はNotFoundを返すこと", func(t *testing.T) {
		t.Parallel()
		svc, _ := newTestService(t, newTestStore(t), sse.Offline)

		err := svc.MarkAsRead(t.Context(), 9999, 1)
		if got := apperror.StatusOf(err); got != http.StatusNotFound {
			t.Errorf("StatusOf() = %d, want %d", got, http.StatusNotFound)
		}
	})

	t.Run("確認後の更新件数が0件の場合は内部エラーを返すこと", func(t *testing.T) {
		t.Parallel()
		base := newTestStore(t)
		created := insertN(t, base, 1, 1)
		svc, _ := newTestService(t, &faultyStore{Store: base, zeroAffected: true}, sse.Offline)

		err := svc.MarkAsRead(t.Context(), created[0].ID, 1)
		if got := apperror.StatusOf(err); got != http.StatusInternalServerError {
			t.Errorf("StatusOf() = %d, want %d", got, http.StatusInternalServerError)
		}
	})
}

func TestServiceMarkAllAsRead(t *testing.T) {
	t.Parallel()

	t.Run("未読が無くても成功すること", func(t *testing.T) {
		t.Parallel()
		svc, _ := newTestService(t, newTestStore(t), sse.Offline)

		updated, err := svc.MarkAllAsRead(t.Context(), 1)
		if err != nil {
			t.Fatalf("MarkAllAsRead()でエラーが発生: %v", err)
		}
		if updated != 0 {
			t.Errorf("updated = %d, want 0", updated)
		}
	})

	t.Run("全既読の後は未読通知が無くなること", func(t *testing.T) {
		t.Parallel()
		store := newTestStore(t)
		insertN(t, store, 1, 4)
		svc, _ := newTestService(t, store, sse.Offline)

		updated, err := svc.MarkAllAsRead(t.Context(), 1)
		if err != nil {
			t.Fatalf("MarkAllAsRead()でエラーが発生: %v", err)
		}
		if updated != 4 {
			t.Errorf("updated = %d, want 4", updated)
		}
		unread, err := svc.FindUnread(t.Context(), 1, nil)
		if err != nil {
			t.Fatalf("FindUnread()でエラーが発生: %v", err)
		}
		if len(unread) != 0 {
			t.Errorf("未読件数 = %d, want 0", len(unread))
		}
	})
}

func TestServiceDelete(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	created := insertN(t, store, 1, 2)
	svc, _ := newTestService(t, store, sse.Offline)

	t.Run("所有者でない場合はForbiddenを返すこと", func(t *testing.T) {
		t.Parallel()
		err := svc.Delete(t.Context(), created[0].ID, 2)
		if got := apperror.StatusOf(err); got != http.StatusForbidden {
			t.Errorf("StatusOf() = %d, want %d", got, http.StatusForbidden)
		}
	})

	t.Run("所有者は削除できること", func(t *testing.T) {
		t.Parallel()
		if err := svc.Delete(t.Context(), created[1].ID, 1); err != nil {
			t.Fatalf("Delete()でエラーが発生: %v", err)
		}
		err := svc.Delete(t.Context(), created[1].ID, 1)
		if got := apperror.StatusOf(err); got != http.StatusNotFound {
			t.Errorf("削除済みの通知のStatusOf() = %d, want %d", got, http.StatusNotFound)
		}
	})
}

func TestServiceIngest(t *testing.T) {
	t.Parallel()

	t.Run("イベントの通知先ごとに通知を作成し配信すること", func(t *testing.T) {
		t.Parallel()
		svc, pusher := newTestService(t, newTestStore(t), sse.Delivered)
		e, err := event.New("notice-1", event.AggregateTypeNotice, event.TypeNoticePosted, event.NoticePostedData{
			Title:       "断水のお知らせ",
			ResidentIDs: []int64{3, 4},
		})
		if err != nil {
			t.Fatalf("event.New()でエラーが発生: %v", err)
		}

		count, err := svc.Ingest(t.Context(), e)
		if err != nil {
			t.Fatalf("Ingest()でエラーが発生: %v", err)
		}
		if count != 2 {
			t.Errorf("作成件数 = %d, want 2", count)
		}
		if len(pusher.calls()) != 2 {
			t.Errorf("配信回数 = %d, want 2", len(pusher.calls()))
		}
	})

	t.Run("未対応のイベントはBadRequestを返すこと", func(t *testing.T) {
		t.Parallel()
		svc, _ := newTestService(t, newTestStore(t), sse.Delivered)

		_, err := svc.Ingest(t.Context(), &event.Event{EventType: "Unknown", Data: []byte(`{}`)})
		if got := apperror.StatusOf(err); got != http.StatusBadRequest {
			t.Errorf("StatusOf() = %d, want %d", got, http.StatusBadRequest)
		}
	})

	t.Run("通知先が無いイベントは何もしないこと", func(t *testing.T) {
		t.Parallel()
		svc, pusher := newTestService(t, newTestStore(t), sse.Delivered)
		e, _ := event.New("poll-1", event.AggregateTypePoll, event.TypePollClosed, event.PollData{Title: "駐輪場"})

		count, err := svc.Ingest(t.Context(), e)
		if err != nil {
			t.Fatalf("Ingest()でエラーが発生: %v", err)
		}
		if count != 0 || len(pusher.calls()) != 0 {
			t.Errorf("count = %d, 配信回数 = %d, want 0", count, len(pusher.calls()))
		}
	})
}
