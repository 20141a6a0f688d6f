package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/chatcore/internal/config"
)

func runConfigSchema(cmd *cobra.Command) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(schema))
	return err
}

func runConfigValidate(cmd *cobra.Command) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s is valid (llm: %s, storage: %s)\n",
		configPath, cfg.LLM.Provider, cfg.Storage.Backend)
	return nil
}
