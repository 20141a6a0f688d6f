package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/chatcore/internal/auth"
)

func runToken(cmd *cobra.Command, userID, name, email string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	token, err := auth.NewService(cfg.Auth).GenerateJWT(&auth.User{
		ID:    userID,
		Name:  name,
		Email: email,
	})
	if errors.Is(err, auth.ErrAuthDisabled) {
		return fmt.Errorf("auth.jwt_secret is not set in %s", configPath)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
	return err
}
