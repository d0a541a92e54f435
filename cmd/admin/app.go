package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"anon-chat/internal/config"
	"anon-chat/internal/logger"
	"anon-chat/internal/storage"
)

// app 持有命令共享的依赖。db 为空时在 PersistentPreRunE 中按配置打开。
type app struct {
	cfgFile string
	cfg     config.Config
	db      *gorm.DB
	logger  *zap.Logger
}

func (a *app) init() error {
	if a.logger != nil && a.db != nil {
		return nil
	}
	cfg, err := config.LoadConfig(a.cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg
	if a.logger == nil {
		if a.logger, err = logger.New(cfg.LogLevel, true); err != nil {
			return err
		}
	}
	if a.db == nil {
		if a.db, err = storage.InitDB(cfg.Database, a.logger); err != nil {
			return err
		}
		if err := storage.AutoMigrateTables(a.db, a.logger); err != nil {
			return err
		}
	}
	return nil
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "admin",
		Short:         "anon-chat operator tools",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}
	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "Path to configuration file")

	root.AddCommand(newCreateAdminCmd(a), newGroupsCmd(a), newReportsCmd(a))
	return root
}
