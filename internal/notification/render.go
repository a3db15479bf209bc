package notification

import (
	"fmt"

	"github.com/nao1215/aptnotify/pkg/event"
)

// Render は業務イベントを通知先ユーザーごとの通知に変換する。
// 通知本文はこの時点で描画し、以降は変更しない。
// 同じイベント内で重複した通知先には1件だけ作成する。
func Render(e *event.Event) ([]NewNotification, error) {
	switch e.EventType {
	case event.TypeResidentSignedUp:
		d, err := event.DecodeData[event.ResidentSignedUpData](e)
		if err != nil {
			return nil, err
		}
		content := fmt.Sprintf("%sに%s（%s）さんから入居申請が届きました。", d.ApartmentName, d.ResidentName, d.Unit)
		return fanOut(d.AdminIDs, content), nil

	case event.TypeResidentApproved:
		d, err := event.DecodeData[event.ResidentApprovedData](e)
		if err != nil {
			return nil, err
		}
		content := fmt.Sprintf("%sへの入居申請が承認されました。", d.ApartmentName)
		return fanOut([]int64{d.ResidentID}, content), nil

	case event.TypeComplaintCreated:
		d, err := event.DecodeData[event.ComplaintCreatedData](e)
		if err != nil {
			return nil, err
		}
		content := fmt.Sprintf("%sから苦情「%s」が登録されました。", d.Unit, d.Title)
		return fanOut(d.AdminIDs, content), nil

	case event.TypeComplaintStatusChanged:
		d, err := event.DecodeData[event.ComplaintStatusChangedData](e)
		if err != nil {
			return nil, err
		}
		content := fmt.Sprintf("苦情「%s」の対応状況が「%s」に変わりました。", d.Title, d.Status)
		return fanOut([]int64{d.AuthorID}, content), nil

	case event.TypeCommentAdded:
		d, err := event.DecodeData[event.CommentAddedData](e)
		if err != nil {
			return nil, err
		}
		content := fmt.Sprintf("苦情「%s」に管理者のコメントが付きました。", d.Title)
		return fanOut([]int64{d.AuthorID}, content), nil

	case event.TypePollCreated, event.TypePollClosed:
		d, err := event.DecodeData[event.PollData](e)
		if err != nil {
			return nil, err
		}
		format := "新しい投票「%s」が始まりました。"
		if e.EventType == event.TypePollClosed {
			format = "投票「%s」が締め切られました。結果を確認してください。"
		}
		return fanOut(d.ResidentIDs, fmt.Sprintf(format, d.Title)), nil

	case event.TypeNoticePosted:
		d, err := event.DecodeData[event.NoticePostedData](e)
		if err != nil {
			return nil, err
		}
		content := fmt.Sprintf("新しいお知らせ「%s」が掲示されました。", d.Title)
		return fanOut(d.ResidentIDs, content), nil

	default:
		return nil, fmt.Errorf("未対応のイベント種類です: %s", e.EventType)
	}
}

// fanOut は通知先ごとに同じ本文の通知を作る。不正なIDと重複は除く。
func fanOut(userIDs []int64, content string) []NewNotification {
	seen := make(map[int64]struct{}, len(userIDs))
	items := make([]NewNotification, 0, len(userIDs))
	for _, id := range userIDs {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		items = append(items, NewNotification{UserID: id, Content: content})
	}
	return items
}
