package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hyperengineering/bridge/internal/auth"
	"github.com/hyperengineering/bridge/internal/store"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// Test seams for the terminal.
var (
	readPassword = term.ReadPassword
	isTerminal   = term.IsTerminal
)

var (
	userName  string
	userEmail string
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users",
}

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a user",
	Long:  "Create a user without running the server. The password is prompted for on a terminal, otherwise read from the first line of stdin.",
	Args:  cobra.NoArgs,
	RunE:  runUserCreate,
}

func init() {
	userCreateCmd.Flags().StringVar(&userName, "name", "", "Display name")
	userCreateCmd.Flags().StringVar(&userEmail, "email", "", "Email address")
	userCreateCmd.MarkFlagRequired("name")
	userCreateCmd.MarkFlagRequired("email")

	userCmd.AddCommand(userCreateCmd)
}

func runUserCreate(cmd *cobra.Command, args []string) error {
	path, cfg, err := resolveDBPath()
	if err != nil {
		return err
	}

	password, err := readPasswordInput(cmd)
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}

	db, err := store.NewSQLiteStore(path)
	if err != nil {
		return err
	}
	defer db.Close()

	// Registration never issues tokens, so no signing secret is needed here.
	creds := auth.NewCredentials(db, auth.NewPasswordHasher(cfg.Auth.BcryptCost), nil, nil)
	user, err := creds.Register(cmd.Context(), userName, userEmail, password)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return fmt.Errorf("a user with email %q already exists", userEmail)
		}
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created user %s <%s> (id: %s)\n", user.Name, user.Email, user.ID)
	return nil
}

func readPasswordInput(cmd *cobra.Command) (string, error) {
	fd := int(os.Stdin.Fd())
	if cmd.InOrStdin() == os.Stdin && isTerminal(fd) {
		fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
		pw, err := readPassword(fd)
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", err
		}
		return string(pw), nil
	}

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
