package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nao1215/aptnotify/pkg/event"
)

func newPublishCmd(opts *globalOptions) *cobra.Command {
	var (
		eventType     string
		aggregateType string
		aggregateID   string
		data          string
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "業務イベントを送信して通知を生成する",
		Example: `  notifyctl publish --type NoticePosted --aggregate-type Notice --aggregate-id notice-1 \
    --data '{"title":"断水のお知らせ","resident_ids":[1,2,3]}'`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !json.Valid([]byte(data)) {
				return errors.New("--data にはJSONを指定してください")
			}

			e, err := event.New(aggregateID, event.AggregateType(aggregateType), event.Type(eventType), json.RawMessage(data))
			if err != nil {
				return err
			}
			count, err := opts.client().Publish(cmd.Context(), e)
			if err != nil {
				return fmt.Errorf("イベントの送信に失敗: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "イベント %s から通知を%d件作成しました\n", e.ID, count)
			return err
		},
	}
	cmd.Flags().StringVar(&eventType, "type", "", "イベントの種類（例: NoticePosted）")
	cmd.Flags().StringVar(&aggregateType, "aggregate-type", "", "対象エンティティの種類（例: Notice）")
	cmd.Flags().StringVar(&aggregateID, "aggregate-id", "", "対象エンティティのID")
	cmd.Flags().StringVar(&data, "data", "{}", "イベント固有のデータ（JSON）")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}
