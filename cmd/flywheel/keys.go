package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joyshmitz/flywheel-gateway-sub010/internal/auth"
)

func keysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys",
	}
	cmd.AddCommand(initKeysCmd())
	return cmd
}

func initKeysCmd() *cobra.Command {
	var project, keysFile, agentID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate an API key for a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if keysFile == "" {
				keysFile = auth.ResolveKeysPath()
			}
			key, err := auth.AddKey(keysFile, project, agentID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "project: %s\nkey: %s\nkeys file: %s\n", project, key, keysFile)
			return nil
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project the key grants access to")
	cmd.Flags().StringVar(&keysFile, "keys-file", "", "keys file (default $FLYWHEEL_KEYS_FILE or ./flywheel.keys.yaml)")
	cmd.Flags().StringVar(&agentID, "agent", "", "bind the key to a single agent id")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}
