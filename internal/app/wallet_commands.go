package app

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	clierr "github.com/ggonzalez94/swapdesk/internal/errors"
)

func (s *runtimeState) newWalletCommand() *cobra.Command {
	root := &cobra.Command{Use: "wallet", Short: "Custodied wallet commands"}

	root.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Generate a new wallet, replacing any existing one",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, d, err := s.userDeps()
			if err != nil {
				return err
			}
			view, err := d.trader.CreateWallet(s.commandContext(cmd), userID)
			if err != nil {
				return err
			}
			return s.emitSuccess(view, nil)
		},
	})

	var keyEnv, keystorePath, passwordEnv string
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Import a private key or V3 keystore, replacing any existing wallet",
		RunE: func(cmd *cobra.Command, args []string) error {
			hasKey := strings.TrimSpace(keyEnv) != ""
			hasKeystore := strings.TrimSpace(keystorePath) != ""
			if hasKey == hasKeystore {
				return clierr.New(clierr.CodeUsage, "set exactly one of --key-env or --keystore")
			}
			userID, d, err := s.userDeps()
			if err != nil {
				return err
			}
			ctx := s.commandContext(cmd)
			if hasKey {
				key := strings.TrimSpace(os.Getenv(keyEnv))
				if key == "" {
					return clierr.New(clierr.CodeUsage, "environment variable "+keyEnv+" is empty")
				}
				view, err := d.trader.ImportKey(ctx, userID, key)
				if err != nil {
					return err
				}
				return s.emitSuccess(view, nil)
			}
			keyJSON, err := os.ReadFile(keystorePath)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "read keystore", err)
			}
			password := ""
			if strings.TrimSpace(passwordEnv) != "" {
				password = os.Getenv(passwordEnv)
			}
			view, err := d.trader.ImportKeystore(ctx, userID, keyJSON, password)
			if err != nil {
				return err
			}
			return s.emitSuccess(view, nil)
		},
	}
	importCmd.Flags().StringVar(&keyEnv, "key-env", "", "Environment variable holding the hex private key")
	importCmd.Flags().StringVar(&keystorePath, "keystore", "", "Path to a V3 keystore JSON file")
	importCmd.Flags().StringVar(&passwordEnv, "password-env", "", "Environment variable holding the keystore password")
	root.AddCommand(importCmd)

	root.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the wallet address and settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, d, err := s.userDeps()
			if err != nil {
				return err
			}
			view, err := d.trader.Wallet(s.commandContext(cmd), userID)
			if err != nil {
				return err
			}
			return s.emitSuccess(view, nil)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "disconnect",
		Short: "Forget the wallet; settings are kept",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, d, err := s.userDeps()
			if err != nil {
				return err
			}
			if err := d.trader.Disconnect(s.commandContext(cmd), userID); err != nil {
				return err
			}
			return s.emitSuccess(map[string]any{"user_id": userID, "disconnected": true}, nil)
		},
	})
	return root
}

func (s *runtimeState) userDeps() (string, *deps, error) {
	userID, err := s.user()
	if err != nil {
		return "", nil, err
	}
	d, err := s.tradingDeps()
	if err != nil {
		return "", nil, err
	}
	return userID, d, nil
}
