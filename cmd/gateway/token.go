package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nao1215/listing-gateway/pkg/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token <username>",
	Short: "Bearerトークンを発行する",
	Long: `設定された署名用秘密鍵でBearerトークンを発行し、標準出力に書き出す。
有効期限はログインで発行するトークンと同じ24時間。`,
	Args: cobra.ExactArgs(1),
	RunE: runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	creds := auth.NewCredentials(cfg.SecretKey, cfg.APIKeys(), cfg.AdminUsername, cfg.AdminPassword)
	token, err := auth.NewAuthenticator(creds).IssueToken(args[0])
	if err != nil {
		return fmt.Errorf("トークンの発行に失敗: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
