package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/habedi/inspecta/auth"
	"github.com/habedi/inspecta/client"
	"github.com/habedi/inspecta/pkg/clierr"
	"github.com/habedi/inspecta/pkg/validation"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// loginCmd logs in with email and password and stores the session.
func loginCmd() *cobra.Command {
	var email, remoteIP string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to the Inspecta backends",
		Long:  "Log in with your email and password. The session is kept until you log out or it expires.",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if email == "" {
				cmd.Println("Please enter your email and password.")
				if email, err = promptForInput(cmd.InOrStdin(), "Email: "); err != nil {
					return clierr.New(clierr.Internal, "Failed to read input.", err)
				}
			}
			password, err := promptForPassword("Password: ")
			if err != nil {
				return clierr.New(clierr.Internal, "Failed to read password.", err)
			}
			if err := validateCredentials(email, password); err != nil {
				return clierr.New(clierr.Validation, err.Error(), err)
			}

			pair, err := container.Session().Login(cmd.Context(), container.Backends().Auth, auth.Credentials{
				Email:           email,
				Password:        password,
				RemoteIPAddress: remoteIP,
			})
			if err != nil {
				return loginError(err)
			}
			cmd.Printf("Login was successful (user %s).\n", pair.UserID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&email, "email", "e", "", "Email address to log in with")
	cmd.Flags().StringVar(&remoteIP, "remote-ip", "", "Client IP address reported to the backend")

	return cmd
}

// loginError turns a rejected login into a credentials message instead of
// a generic HTTP failure.
func loginError(err error) error {
	var httpErr *client.HTTPError
	if errors.As(err, &httpErr) && (httpErr.StatusCode == http.StatusUnauthorized || httpErr.StatusCode == http.StatusBadRequest) {
		return clierr.New(clierr.Validation, "Login failed: invalid email or password.", err)
	}
	return clierr.Classify("Login failed", err)
}

// logoutCmd ends the session locally and on the backend.
func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Log out and clear the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := container.Session().Logout(cmd.Context(), container.Backends().Auth); err != nil {
				return clierr.Classify("Logout failed", err)
			}
			cmd.Println("Logged out.")
			return nil
		},
	}
}

// promptForInput prompts the user for input and returns the trimmed string.
func promptForInput(in io.Reader, prompt string) (string, error) {
	reader := bufio.NewReader(in)
	fmt.Print(prompt)
	input, err := reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && input != "") {
		return "", err
	}
	return strings.TrimSpace(input), nil
}

// promptForPassword prompts the user for a password securely and returns the trimmed string.
func promptForPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", err
	}
	fmt.Println() // Print a newline for better formatting
	return strings.TrimSpace(string(password)), nil
}

// validateCredentials checks the email format and that a password was given.
func validateCredentials(email, password string) error {
	if err := validation.ValidateEmail(email); err != nil {
		return err
	}
	return validation.ValidateNonEmptyString("password", password)
}
