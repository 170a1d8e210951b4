// Package users provides commands that manage dashboard accounts
// directly in the database.
package users

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/agentstation/beacon/internal/auth"
	"github.com/agentstation/beacon/internal/cmd/application"
	"github.com/agentstation/beacon/internal/cmd/emoji"
	"github.com/agentstation/beacon/internal/cmd/output"
	"github.com/agentstation/beacon/internal/validation"
	"github.com/agentstation/beacon/pkg/errors"
	"github.com/agentstation/beacon/pkg/models"
)

// NewCommand creates the users command and its subcommands.
func NewCommand(app application.Application) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "users",
		Aliases: []string{"user"},
		GroupID: "management",
		Short:   "Manage dashboard users",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newListCommand(app))
	cmd.AddCommand(newAddCommand(app))
	cmd.AddCommand(newRemoveCommand(app))
	cmd.AddCommand(newSeedCommand(app))
	return cmd
}

func newListCommand(app application.Application) *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List users",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := app.Storage(cmd.Context())
			if err != nil {
				return err
			}
			users, err := st.ListUsers(cmd.Context())
			if err != nil {
				return err
			}
			if role != "" {
				r := models.Role(role)
				if !r.Valid() {
					return errors.NewValidationError("role", role, "must be admin, editor or viewer")
				}
				users = byRole(users, r)
			}

			format := output.DetectFormat(app.OutputFormat())
			return output.Write(cmd.OutOrStdout(), format, users, func(wide bool) output.Data {
				return output.UsersTable(users, wide)
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "only list users with this role")
	return cmd
}

func byRole(users []models.User, role models.Role) []models.User {
	out := make([]models.User, 0, len(users))
	for _, u := range users {
		if u.Role == role {
			out = append(out, u)
		}
	}
	return out
}

func newAddCommand(app application.Application) *cobra.Command {
	var req validation.CreateUserRequest
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a user",
		Example: `  beacon users add --email ada@example.com --name Ada --role admin --password 'correct-horse'
  BEACON_USER_PASSWORD=... beacon users add --email vic@example.com`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if req.Password == "" {
				req.Password = os.Getenv("BEACON_USER_PASSWORD")
			}
			st, err := app.Storage(cmd.Context())
			if err != nil {
				return err
			}
			user, err := create(cmd, st, req)
			if err != nil {
				return err
			}
			app.Logger().Info().Str("user_id", user.ID).Str("role", string(user.Role)).Msg("User created")
			cmd.Printf("%s Created %s (%s) as %s\n", emoji.Success, user.Email, user.ID, user.Role)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Email, "email", "", "email address (required)")
	cmd.Flags().StringVar(&req.Name, "name", "", "display name (defaults to the email's local part)")
	cmd.Flags().StringVar((*string)(&req.Role), "role", string(models.RoleViewer), "role: admin, editor or viewer")
	cmd.Flags().StringVar(&req.Password, "password", "", "password (or set BEACON_USER_PASSWORD)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// userCreator is the storage the add and seed commands write to.
type userCreator interface {
	CreateUser(ctx context.Context, u *models.User) error
}

// create validates req, hashes the password and stores the user.
func create(cmd *cobra.Command, st userCreator, req validation.CreateUserRequest) (models.User, error) {
	if err := req.Validate(); err != nil {
		return models.User{}, err
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return models.User{}, err
	}
	user := req.User(uuid.NewString(), hash, time.Now().UTC())
	if err := st.CreateUser(cmd.Context(), &user); err != nil {
		return models.User{}, err
	}
	return user, nil
}

func newRemoveCommand(app application.Application) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <id|email>...",
		Aliases: []string{"rm"},
		Short:   "Delete users by ID or email",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := app.Storage(cmd.Context())
			if err != nil {
				return err
			}
			for _, arg := range args {
				id := arg
				if u, err := st.GetUserByEmail(cmd.Context(), arg); err == nil {
					id = u.ID
				} else if !errors.IsNotFound(err) {
					return err
				}
				if err := st.DeleteUser(cmd.Context(), id); err != nil {
					return err
				}
				app.Logger().Info().Str("user_id", id).Msg("User deleted")
				cmd.Printf("%s Removed %s\n", emoji.Success, arg)
			}
			return nil
		},
	}
}

// SeedFile is the YAML document read by "users seed".
type SeedFile struct {
	Users []validation.CreateUserRequest `yaml:"users"`
}

// LoadSeedFile parses a seed file.
func LoadSeedFile(path string) (SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SeedFile{}, errors.WrapResource("read", "seed file", path, err)
	}
	var seed SeedFile
	if err := yaml.UnmarshalWithOptions(data, &seed, yaml.DisallowUnknownField()); err != nil {
		return SeedFile{}, errors.NewValidationError("file", path, fmt.Sprintf("invalid seed file: %v", err))
	}
	return seed, nil
}

func newSeedCommand(app application.Application) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create users from a YAML file",
		Long: `Create every user listed in a YAML file. Users whose email already
exists are skipped, so seeding is safe to repeat.

  users:
    - email: ada@example.com
      name: Ada
      role: admin
      password: correct-horse`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			seed, err := LoadSeedFile(file)
			if err != nil {
				return err
			}
			st, err := app.Storage(cmd.Context())
			if err != nil {
				return err
			}

			var created, skipped int
			for i, req := range seed.Users {
				user, err := create(cmd, st, req)
				switch {
				case errors.IsAlreadyExists(err):
					skipped++
					cmd.Printf("%s %s exists\n", emoji.Skipped, models.NormalizeEmail(req.Email))
				case err != nil:
					return fmt.Errorf("user %d: %w", i+1, err)
				default:
					created++
					cmd.Printf("%s %s (%s)\n", emoji.Success, user.Email, user.Role)
				}
			}

			app.Logger().Info().Int("created", created).Int("skipped", skipped).Str("file", file).Msg("Users seeded")
			cmd.Printf("Created %d, skipped %d\n", created, skipped)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "seed file (required)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
