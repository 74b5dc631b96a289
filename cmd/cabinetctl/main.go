// cabinetctl is the operator CLI: it runs the engine's maintenance jobs by
// hand and issues staff tokens, against the same database as the server.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"keycabinet/internal/adapters/persistence/models"
	"keycabinet/internal/adapters/persistence/repositories"
	"keycabinet/internal/config"
	"keycabinet/internal/core/domain"
	"keycabinet/internal/core/services"
	"keycabinet/internal/pkg/jwt"
	"keycabinet/internal/pkg/password"

	"github.com/spf13/cobra"
)

// env is the loaded config plus the wired services
type env struct {
	cfg *config.Config
	svc *services.Container
}

func setup() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	db, err := config.ConnectDatabase(cfg)
	if err != nil {
		return nil, err
	}
	if err := models.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &env{cfg: cfg, svc: services.NewContainer(db, cfg, services.NopPublisher{})}, nil
}

// NewRootCmd builds the command tree
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "cabinetctl",
		Short:         "Operate the key cabinet lending engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	penaltyCmd := &cobra.Command{
		Use:   "penalty",
		Short: "Inspect and switch penalty rule sets",
	}
	penaltyCmd.AddCommand(newPenaltyShowCmd(), newPenaltyActivateCmd())

	kioskCmd := &cobra.Command{
		Use:   "kiosk",
		Short: "Manage kiosk devices",
	}
	kioskCmd.AddCommand(newKioskAddCmd())

	root.AddCommand(newMaterializeCmd(), penaltyCmd, newRestoreCmd(), newTokenCmd(), kioskCmd)
	return root
}

func newMaterializeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "materialize",
		Short: "Create reservations from weekly schedules for one date",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			loc := e.svc.Reservations.Location()

			date := time.Now().In(loc)
			if v, _ := cmd.Flags().GetString("date"); v != "" {
				date, err = time.ParseInLocation("2006-01-02", v, loc)
				if err != nil {
					return fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
				}
			}

			sum, err := e.svc.Reservations.Materialize(cmd.Context(), date)
			if err != nil {
				return err
			}
			fmt.Printf("Date %s: %d schedule(s), %d created, %d existing, %d without key, %d invalid\n",
				sum.Date, sum.Schedules, sum.Created, sum.SkippedExisting, sum.SkippedNoKey, sum.SkippedInvalid)
			return nil
		},
	}
	cmd.Flags().String("date", "", "target date YYYY-MM-DD (default today)")
	return cmd
}

func newPenaltyShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "List penalty configs and mark the active one",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			list, err := e.svc.Penalties.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(list) == 0 {
				r := domain.DefaultPenaltyRules()
				fmt.Printf("No penalty config stored, defaults apply: grace=%d interval=%d score=%d restore=%dd\n",
					r.GraceMinutes, r.IntervalMinutes, r.ScorePerInterval, r.RestoreDays)
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tGRACE\tINTERVAL\tSCORE\tRESTORE\tACTIVE")
			for _, c := range list {
				active := ""
				if c.IsActive {
					active = "*"
				}
				fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\t%d\t%s\n",
					c.ID, c.Name, c.GraceMinutes, c.IntervalMinutes, c.ScorePerInterval, c.RestoreDays, active)
			}
			return w.Flush()
		},
	}
}

func newPenaltyActivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "activate <id>",
		Short: "Make one penalty config the only active one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid id %q", args[0])
			}
			e, err := setup()
			if err != nil {
				return err
			}
			cfg, err := e.svc.Penalties.Activate(cmd.Context(), uint(id))
			if err != nil {
				return err
			}
			fmt.Printf("✅ Penalty config #%d (%s) is now active\n", cfg.ID, cfg.Name)
			return nil
		},
	}
}

func newRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore",
		Short: "Run standing restoration now",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			sum, err := e.svc.Standing.Restore(cmd.Context(), time.Now())
			if err != nil {
				return err
			}
			fmt.Printf("Restored %d user(s), lifted %d suspension(s) [restore window %d days]\n",
				sum.Restored, sum.Unbanned, sum.RestoreDays)
			return nil
		},
	}
}

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token <user-code>",
		Short: "Issue a staff access token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}

			var user *models.User
			err = e.svc.UoW.Do(cmd.Context(), func(ctx context.Context, st *repositories.Stores) error {
				users, err := st.Users.FindByIdentity(ctx, args[0])
				if err != nil {
					return err
				}
				if len(users) != 1 {
					return fmt.Errorf("user %q not found", args[0])
				}
				user = users[0]
				return nil
			})
			if err != nil {
				return err
			}

			role := domain.Role(user.Role)
			if role != domain.RoleStaff && role != domain.RoleAdmin {
				return errors.New("tokens are issued to STAFF and ADMIN users only")
			}

			minutes, _ := cmd.Flags().GetInt("minutes")
			if minutes <= 0 {
				minutes = e.cfg.JWT.AccessTokenMins
			}
			token, err := jwt.GenerateAccessToken(user.ID, user.Code, user.Role, e.cfg.JWT.Secret, minutes)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().Int("minutes", 0, "token lifetime in minutes (default ACCESS_TOKEN_MINUTES)")
	return cmd
}

func newKioskAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <code> <secret>",
		Short: "Register a kiosk device",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, secret := args[0], args[1]
			if !password.ValidateSecret(secret) {
				return fmt.Errorf("secret must be at least %d characters", password.MinSecretLength)
			}
			e, err := setup()
			if err != nil {
				return err
			}

			exists, err := e.svc.Kiosks.Exists(cmd.Context(), code)
			if err != nil {
				return err
			}
			if exists {
				return fmt.Errorf("kiosk %q already registered", code)
			}

			hash, err := password.Hash(secret)
			if err != nil {
				return err
			}
			name, _ := cmd.Flags().GetString("name")
			loc, _ := cmd.Flags().GetString("location")
			kiosk := &models.Kiosk{Code: code, Name: name, Location: loc, SecretHash: hash, IsActive: true}
			if err := e.svc.Kiosks.Create(cmd.Context(), kiosk); err != nil {
				return err
			}
			fmt.Printf("✅ Kiosk %s registered (id %d)\n", kiosk.Code, kiosk.ID)
			return nil
		},
	}
	cmd.Flags().String("name", "", "display name")
	cmd.Flags().String("location", "", "where the cabinet is mounted")
	return cmd
}

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}
