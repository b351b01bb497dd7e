package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"casework/internal/assignment/seed"
	jwttoken "casework/internal/jwt_token"
	"casework/internal/platform/config"
	id "casework/pkg/domain"
)

func TokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token",
		Long: `Mint an access token signed with JWT_SIGNING_KEY.

--user takes a user id, or a staff key when --seed points at a roster.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			user, _ := cmd.Flags().GetString("user")
			roleFlag, _ := cmd.Flags().GetString("role")
			seedFile, _ := cmd.Flags().GetString("seed")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			userID, err := resolveUser(user, seedFile)
			if err != nil {
				return err
			}
			role := id.Role(roleFlag)
			if !role.IsValid() {
				return fmt.Errorf("--role must be staff, supervisor or admin")
			}

			cfg := config.FromEnv()
			svc := jwttoken.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTAudience)
			token, err := svc.GenerateAccessToken(userID, role, ttl)
			if err != nil {
				return fmt.Errorf("failed to mint token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().String("user", "", "user id or seed staff key")
	cmd.Flags().String("role", string(id.RoleStaff), "role claim")
	cmd.Flags().String("seed", "", "seed roster used to resolve staff keys")
	cmd.Flags().Duration("ttl", 8*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func resolveUser(user, seedFile string) (id.UserID, error) {
	if seedFile == "" {
		return id.ParseUserID(user)
	}
	roster, err := seed.LoadFile(seedFile)
	if err != nil {
		return id.UserID{}, err
	}
	if userID, ok := roster.StaffKeys[user]; ok {
		return userID, nil
	}
	return id.ParseUserID(user)
}
