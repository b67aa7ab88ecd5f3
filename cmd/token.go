package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"nfcunha/vigil/core/models"
	"nfcunha/vigil/middleware"
)

var (
	tokenSubject     string
	tokenRole        string
	tokenPermissions []string
	tokenTTL         time.Duration

	tokenCmd = &cobra.Command{
		Use:   "token",
		Short: "Issue an operator JWT signed with VIGIL_JWT_SECRET",
		RunE:  issueToken,
	}
)

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "sub", "operator", "token subject (user id)")
	tokenCmd.Flags().StringVar(&tokenRole, "role", "viewer", "role claim")
	tokenCmd.Flags().StringSliceVar(&tokenPermissions, "perm", nil, "permission claims")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
}

func issueToken(cmd *cobra.Command, args []string) error {
	secret := os.Getenv("VIGIL_JWT_SECRET")
	if secret == "" {
		return errors.New("VIGIL_JWT_SECRET is not set")
	}

	token, err := middleware.IssueToken(models.AuthUser{
		ID:          tokenSubject,
		Role:        tokenRole,
		Permissions: tokenPermissions,
	}, secret, tokenTTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
