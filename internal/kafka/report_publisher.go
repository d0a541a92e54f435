package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"anon-chat/internal/imtypes"
	"anon-chat/internal/models"
)

// ReportPublisher 把举报以 imtypes.ReportEvent 发往审核 topic，消息 key 为举报 ID。
type ReportPublisher struct {
	producer MessageProducer
	topic    string
	logger   *zap.Logger
}

// NewReportPublisher creates a ReportPublisher writing to topic.
func NewReportPublisher(producer MessageProducer, topic string, logger *zap.Logger) *ReportPublisher {
	return &ReportPublisher{producer: producer, topic: topic, logger: logger}
}

// PublishReport implements services.ReportPublisher.
func (p *ReportPublisher) PublishReport(ctx context.Context, report *models.Report) error {
	payload, err := json.Marshal(imtypes.NewReportEvent(report))
	if err != nil {
		return fmt.Errorf("marshal report %s: %w", report.ID, err)
	}
	if err := p.producer.SendMessage(ctx, p.topic, []byte(report.ID), payload); err != nil {
		return err
	}
	p.logger.Info("report published", zap.String("report_id", report.ID), zap.String("topic", p.topic))
	return nil
}
