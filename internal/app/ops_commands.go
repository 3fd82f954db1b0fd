package app

import (
	"time"

	"github.com/spf13/cobra"

	clierr "github.com/ggonzalez94/swapdesk/internal/errors"
	"github.com/ggonzalez94/swapdesk/internal/httpapi"
	"github.com/ggonzalez94/swapdesk/internal/rpcpool"
)

func (s *runtimeState) newRPCCommand() *cobra.Command {
	root := &cobra.Command{Use: "rpc", Short: "RPC gateway commands"}
	root.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Probe every configured RPC endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := rpcpool.New(s.settings.RPCURLs, rpcpool.WithAttemptTimeout(s.settings.RPCTimeout), rpcpool.WithLogger(s.logger))
			if err != nil {
				return err
			}
			defer pool.Close()
			results := pool.Probe(s.commandContext(cmd))
			var warnings []string
			healthy := 0
			for _, r := range results {
				if r.Healthy {
					healthy++
				} else {
					warnings = append(warnings, r.URL+": "+r.Error)
				}
			}
			if healthy == 0 {
				return clierr.New(clierr.CodeGatewayExhausted, "no RPC endpoint is healthy")
			}
			return s.emitSuccess(results, warnings)
		},
	})
	return root
}

func (s *runtimeState) newTokenCommand() *cobra.Command {
	root := &cobra.Command{Use: "token", Short: "API bearer token commands"}
	var ttl time.Duration
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Sign an API token for --user with the configured JWT secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := s.user()
			if err != nil {
				return err
			}
			if ttl <= 0 {
				return clierr.New(clierr.CodeUsage, "--ttl must be positive")
			}
			now := s.runner.now()
			raw, err := httpapi.IssueToken(s.settings.JWTSecret, userID, ttl, now)
			if err != nil {
				return err
			}
			return s.emitSuccess(map[string]any{
				"user_id":    userID,
				"token":      raw,
				"expires_at": now.Add(ttl).UTC(),
			}, nil)
		},
	}
	issue.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	root.AddCommand(issue)
	return root
}
