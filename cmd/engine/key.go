package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"profilescrape-engine/internal/config"
	"profilescrape-engine/internal/secrets"
)

func newKeyCmd(f *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage the Gemini API key in the OS keychain",
	}

	account := func() (string, error) {
		path, err := config.EnsureUserConfig(f.dataDir)
		if err != nil {
			return "", err
		}
		cfg, err := config.Load(path)
		if err != nil {
			return "", err
		}
		return cfg.Narrative.KeyringAccount, nil
	}

	set := &cobra.Command{
		Use:   "set",
		Short: "Read a key from stdin and store it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			acct, err := account()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.ErrOrStderr(), "Gemini API key: ")
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return errors.New("no key read from stdin")
			}
			if err := secrets.SetGeminiKey(acct, strings.TrimSpace(line)); err != nil {
				return err
			}
			fmt.Fprintln(cmd.ErrOrStderr(), "stored.")
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete",
		Short: "Remove the stored key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			acct, err := account()
			if err != nil {
				return err
			}
			return secrets.DeleteGeminiKey(acct)
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Report whether a key is available",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := config.EnsureUserConfig(f.dataDir)
			if err != nil {
				return err
			}
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if _, err := secrets.GeminiKey(cfg.Narrative.APIKeyEnv, cfg.Narrative.KeyringAccount); err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), "missing:", err)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "available")
			return nil
		},
	}

	cmd.AddCommand(set, del, status)
	return cmd
}
