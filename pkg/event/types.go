package event

import (
	"encoding/json"
	"time"
)

// AggregateType はイベントの対象となるエンティティの種類を表す。
type AggregateType string

const (
	// AggregateTypeResident は入居者エンティティを表す。
	AggregateTypeResident AggregateType = "Resident"
	// AggregateTypeComplaint は苦情エンティティを表す。
	AggregateTypeComplaint AggregateType = "Complaint"
	// AggregateTypePoll は投票エンティティを表す。
	AggregateTypePoll AggregateType = "Poll"
	// AggregateTypeNotice はお知らせエンティティを表す。
	AggregateTypeNotice AggregateType = "Notice"
)

// Type はイベントの種類を表す。
type Type string

const (
	// TypeResidentSignedUp は入居者が入居申請したことを表す。管理者に通知する。
	TypeResidentSignedUp Type = "ResidentSignedUp"
	// TypeResidentApproved は入居申請が承認されたことを表す。申請者に通知する。
	TypeResidentApproved Type = "ResidentApproved"

	// TypeComplaintCreated は苦情が登録されたことを表す。管理者に通知する。
	TypeComplaintCreated Type = "ComplaintCreated"
	// TypeComplaintStatusChanged は苦情の対応状況が変わったことを表す。登録者に通知する。
	TypeComplaintStatusChanged Type = "ComplaintStatusChanged"
	// TypeCommentAdded は苦情に管理者のコメントが付いたことを表す。登録者に通知する。
	TypeCommentAdded Type = "CommentAdded"

	// TypePollCreated は投票が作成されたことを表す。対象棟の入居者に通知する。
	TypePollCreated Type = "PollCreated"
	// TypePollClosed は投票が締め切られたことを表す。対象棟の入居者に通知する。
	TypePollClosed Type = "PollClosed"

	// TypeNoticePosted はお知らせが掲示されたことを表す。対象棟の入居者に通知する。
	TypeNoticePosted Type = "NoticePosted"
)

// Event は業務ドメインで発生した通知対象の出来事を表す。
// 各ドメインサービス（苦情・投票・お知らせ等）が発行し、通知サービスが受け取る。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// AggregateID は対象エンティティの識別子。
	AggregateID string `json:"aggregate_id"`
	// AggregateType は対象エンティティの種類。
	AggregateType AggregateType `json:"aggregate_type"`
	// EventType はイベントの種類。
	EventType Type `json:"event_type"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
	// CreatedAt はイベントが作成された日時。
	CreatedAt time.Time `json:"created_at"`
}

// ResidentSignedUpData はResidentSignedUpイベントのデータ。
type ResidentSignedUpData struct {
	// ApartmentName はアパート名。
	ApartmentName string `json:"apartment_name"`
	// ResidentName は申請者の名前。
	ResidentName string `json:"resident_name"`
	// Unit は部屋番号（例: "101棟 1203号"）。
	Unit string `json:"unit"`
	// AdminIDs は通知先の管理者ユーザーID。
	AdminIDs []int64 `json:"admin_ids"`
}

// ResidentApprovedData はResidentApprovedイベントのデータ。
type ResidentApprovedData struct {
	// ResidentID は承認された入居者のユーザーID。
	ResidentID int64 `json:"resident_id"`
	// ApartmentName はアパート名。
	ApartmentName string `json:"apartment_name"`
}

// ComplaintCreatedData はComplaintCreatedイベントのデータ。
type ComplaintCreatedData struct {
	// Title は苦情のタイトル。
	Title string `json:"title"`
	// Unit は登録者の部屋番号。
	Unit string `json:"unit"`
	// AdminIDs は通知先の管理者ユーザーID。
	AdminIDs []int64 `json:"admin_ids"`
}

// ComplaintStatusChangedData はComplaintStatusChangedイベントのデータ。
type ComplaintStatusChangedData struct {
	// Title は苦情のタイトル。
	Title string `json:"title"`
	// Status は変更後の対応状況（例: "対応中"、"対応完了"）。
	Status string `json:"status"`
	// AuthorID は苦情を登録した入居者のユーザーID。
	AuthorID int64 `json:"author_id"`
}

// CommentAddedData はCommentAddedイベントのデータ。
type CommentAddedData struct {
	// Title はコメントが付いた苦情のタイトル。
	Title string `json:"title"`
	// AuthorID は苦情を登録した入居者のユーザーID。
	AuthorID int64 `json:"author_id"`
}

// PollData はPollCreated/PollClosedイベントのデータ。
type PollData struct {
	// Title は投票のタイトル。
	Title string `json:"title"`
	// ResidentIDs は通知先の入居者ユーザーID。
	ResidentIDs []int64 `json:"resident_ids"`
}

// NoticePostedData はNoticePostedイベントのデータ。
type NoticePostedData struct {
	// Title はお知らせのタイトル。
	Title string `json:"title"`
	// ResidentIDs は通知先の入居者ユーザーID。
	ResidentIDs []int64 `json:"resident_ids"`
}
