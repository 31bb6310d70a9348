package commands

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nhle/inboxpilot/internal/credential"
	"github.com/nhle/inboxpilot/internal/model"
	"github.com/nhle/inboxpilot/internal/theme"
)

var credUsername string

var credentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "Manage the mail password in the system keyring",
}

var credentialsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Store the mail password",
	Args:  cobra.NoArgs,
	RunE:  runCredentialsSet,
}

var credentialsDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Remove the stored mail password",
	Args:  cobra.NoArgs,
	RunE:  runCredentialsDelete,
}

func init() {
	credentialsCmd.PersistentFlags().StringVar(&credUsername, "username", "",
		"Mail account (default: source.imap.username from the configuration)")

	credentialsCmd.AddCommand(credentialsSetCmd)
	credentialsCmd.AddCommand(credentialsDeleteCmd)
}

// mailUsername resolves the account the credential belongs to.
func mailUsername() (string, error) {
	if credUsername != "" {
		return credUsername, nil
	}

	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return "", err
	}
	if cfg.Source.IMAP.Username == "" {
		return "", errors.New("no username: pass --username or set source.imap.username")
	}
	return cfg.Source.IMAP.Username, nil
}

func runCredentialsSet(cmd *cobra.Command, args []string) error {
	username, err := mailUsername()
	if err != nil {
		return err
	}

	var password string
	err = huh.NewInput().
		Title("Password for " + username).
		Description("Stored in the system keyring").
		EchoMode(huh.EchoModePassword).
		Value(&password).
		Validate(func(s string) error {
			if s == "" {
				return errors.New("password is required")
			}
			return nil
		}).
		Run()
	if err != nil {
		return err
	}

	if err := credential.Set(credential.MailPasswordKey(username), password); err != nil {
		return err
	}

	fmt.Println(theme.OKStyle.Render("✓ Saved password for " + username))
	return nil
}

func runCredentialsDelete(cmd *cobra.Command, args []string) error {
	username, err := mailUsername()
	if err != nil {
		return err
	}

	if err := credential.Delete(credential.MailPasswordKey(username)); err != nil {
		return err
	}

	fmt.Println(theme.OKStyle.Render("✓ Removed password for " + username))
	return nil
}
