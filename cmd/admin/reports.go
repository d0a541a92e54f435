package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"anon-chat/internal/apperr"
	"anon-chat/internal/imtypes"
	appKafka "anon-chat/internal/kafka"
	kafkahandlers "anon-chat/internal/kafka/handlers"
	"anon-chat/internal/models"
	"anon-chat/internal/storage"
)

func newReportsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "Review user and group reports",
	}
	cmd.AddCommand(newReportsListCmd(a), newReportsWatchCmd(a))
	return cmd
}

func newReportsListCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the latest stored reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			reports, err := storage.NewGormReportRepository(a.db).List(cmd.Context(), limit)
			if err != nil {
				return apperr.Store("list reports", err)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CREATED\tTYPE\tTARGET\tGROUP\tREASON")
			for _, r := range reports {
				target := r.ReportedUserName
				if target == "" {
					target = "-"
				}
				group := r.GroupName
				if group == "" {
					group = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.CreatedAt.Format(time.RFC3339), r.Kind, target, group, r.Reason)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of reports")
	return cmd
}

func newReportsWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow new reports on the moderation topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.cfg.Kafka.Enabled {
				return errors.New("kafka is disabled (KAFKA.ENABLED=false)")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			consumer := appKafka.NewConfluentKafkaConsumer(a.cfg.Kafka, a.logger)
			defer consumer.Close()

			logic := kafkahandlers.NewReportConsumerLogic(printReport(cmd.OutOrStdout()), a.logger)
			a.logger.Info("watching reports", zap.String("topic", a.cfg.Kafka.ReportsTopic))
			err := consumer.Consume(ctx, []string{a.cfg.Kafka.ReportsTopic}, a.cfg.Kafka.ConsumerGroup, logic.HandleReport)
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

func printReport(out io.Writer) kafkahandlers.ReportSink {
	return func(_ context.Context, e imtypes.ReportEvent) error {
		subject := e.ReportedUserName
		if e.Type == models.ReportGroup {
			subject = e.GroupName
		}
		_, err := fmt.Fprintf(out, "[%s] %s report %s: %s (%s)\n",
			e.CreatedAt.Format(time.RFC3339), e.Type, e.ReportID, subject, e.Reason)
		return err
	}
}
