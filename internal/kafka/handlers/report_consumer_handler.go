package kafkahandlers

import (
	"context"
	"encoding/json"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"anon-chat/internal/imtypes"
)

// ReportSink 接收解码后的举报事件，例如打印到运维终端。
type ReportSink func(ctx context.Context, event imtypes.ReportEvent) error

// ReportConsumerLogic decodes report events from the moderation topic.
type ReportConsumerLogic struct {
	sink   ReportSink
	logger *zap.Logger
}

// NewReportConsumerLogic creates a new instance of ReportConsumerLogic.
func NewReportConsumerLogic(sink ReportSink, logger *zap.Logger) *ReportConsumerLogic {
	return &ReportConsumerLogic{sink: sink, logger: logger}
}

// HandleReport is the kafka.MessageHandler for the moderation topic.
// Undecodable messages are logged and skipped so they do not block the partition;
// sink errors are returned so the offset is not committed.
func (h *ReportConsumerLogic) HandleReport(ctx context.Context, msg *kafka.Message) error {
	var event imtypes.ReportEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		h.logger.Warn("skipping undecodable report message", zap.ByteString("key", msg.Key), zap.Error(err))
		return nil
	}
	if event.ReportID == "" {
		h.logger.Warn("skipping report message without id", zap.ByteString("key", msg.Key))
		return nil
	}
	if err := h.sink(ctx, event); err != nil {
		h.logger.Error("report sink failed", zap.String("report_id", event.ReportID), zap.Error(err))
		return err
	}
	return nil
}
