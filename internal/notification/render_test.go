package notification

import (
	"strings"
	"testing"

	"github.com/nao1215/aptnotify/pkg/event"
)

func TestRender(t *testing.T) {
	t.Parallel()

	newEvent := func(t *testing.T, eventType event.Type, data any) *event.Event {
		t.Helper()
		e, err := event.New("agg-1", event.AggregateTypeComplaint, eventType, data)
		if err != nil {
			t.Fatalf("event.New()でエラーが発生: %v", err)
		}
		return e
	}

	tests := []struct {
		name        string
		eventType   event.Type
		data        any
		wantUsers   []int64
		wantContent string
	}{
		{
			name:        "入居申請は管理者に届くこと",
			eventType:   event.TypeResidentSignedUp,
			data:        event.ResidentSignedUpData{ApartmentName: "グリーンハイツ", ResidentName: "山田", Unit: "101棟 1203号", AdminIDs: []int64{10, 11}},
			wantUsers:   []int64{10, 11},
			wantContent: "グリーンハイツに山田（101棟 1203号）さんから入居申請が届きました。",
		},
		{
			name:        "入居承認は申請者に届くこと",
			eventType:   event.TypeResidentApproved,
			data:        event.ResidentApprovedData{ResidentID: 5, ApartmentName: "グリーンハイツ"},
			wantUsers:   []int64{5},
			wantContent: "グリーンハイツへの入居申請が承認されました。",
		},
		{
			name:        "苦情の登録は管理者に届くこと",
			eventType:   event.TypeComplaintCreated,
			data:        event.ComplaintCreatedData{Title: "騒音", Unit: "102号", AdminIDs: []int64{10}},
			wantUsers:   []int64{10},
			wantContent: "102号から苦情「騒音」が登録されました。",
		},
		{
			name:        "苦情の状況変更は登録者に届くこと",
			eventType:   event.TypeComplaintStatusChanged,
			data:        event.ComplaintStatusChangedData{Title: "騒音", Status: "対応中", AuthorID: 5},
			wantUsers:   []int64{5},
			wantContent: "苦情「騒音」の対応状況が「対応中」に変わりました。",
		},
		{
			name:        "コメントは苦情の登録者に届くこと",
			eventType:   event.TypeCommentAdded,
			data:        event.CommentAddedData{Title: "騒音", AuthorID: 5},
			wantUsers:   []int64{5},
			wantContent: "苦情「騒音」に管理者のコメントが付きました。",
		},
		{
			name:        "投票の締め切りは入居者に届くこと",
			eventType:   event.TypePollClosed,
			data:        event.PollData{Title: "駐輪場の増設", ResidentIDs: []int64{1, 2}},
			wantUsers:   []int64{1, 2},
			wantContent: "締め切られました",
		},
		{
			name:        "重複と不正なIDは除かれること",
			eventType:   event.TypeNoticePosted,
			data:        event.NoticePostedData{Title: "断水", ResidentIDs: []int64{3, 0, 3, -1, 4}},
			wantUsers:   []int64{3, 4},
			wantContent: "新しいお知らせ「断水」が掲示されました。",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			items, err := Render(newEvent(t, tt.eventType, tt.data))
			if err != nil {
				t.Fatalf("Render()でエラーが発生: %v", err)
			}
			if len(items) != len(tt.wantUsers) {
				t.Fatalf("通知件数 = %d, want %d", len(items), len(tt.wantUsers))
			}
			for i, n := range items {
				if n.UserID != tt.wantUsers[i] {
					t.Errorf("items[%d].UserID = %d, want %d", i, n.UserID, tt.wantUsers[i])
				}
				if !strings.Contains(n.Content, tt.wantContent) {
					t.Errorf("items[%d].Content = %q, want contains %q", i, n.Content, tt.wantContent)
				}
			}
		})
	}

	t.Run("未対応のイベントはエラーになること", func(t *testing.T) {
		t.Parallel()
		if _, err := Render(&event.Event{EventType: "Unknown"}); err == nil {
			t.Error("エラーが返されるべき")
		}
	})

	t.Run("データが不正な場合はエラーになること", func(t *testing.T) {
		t.Parallel()
		e := &event.Event{EventType: event.TypeNoticePosted, Data: []byte(`{"resident_ids":"x"}`)}
		if _, err := Render(e); err == nil {
			t.Error("エラーが返されるべき")
		}
	})
}
