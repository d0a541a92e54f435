package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"anon-chat/internal/models"
	"anon-chat/internal/services"
	"anon-chat/internal/storage"
)

func newCreateAdminCmd(a *app) *cobra.Command {
	var name, email, password string
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an admin account that can manage groups",
		RunE: func(cmd *cobra.Command, args []string) error {
			authService := services.NewAuthService(storage.NewGormUserRepository(a.db), nil, a.cfg.Auth, a.logger)
			user, err := authService.CreateUser(cmd.Context(), name, email, password, models.RoleAdmin)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created admin %s (%s)\n", user.Email, user.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&email, "email", "", "Login email")
	cmd.Flags().StringVar(&password, "password", "", "Initial password")
	for _, f := range []string{"name", "email", "password"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}
