package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var loginFlags struct {
	clientConfig
	password string
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Exchange the admin password for a session token",
	Long: `Log in and print a session token. The password is read from --password,
AUDITDESK_ADMIN_PASSWORD, or the first line of standard input.

  export AUDITDESK_SESSION=$(auditdesk login -q)`,
	RunE: runLogin,
}

var logoutFlags struct {
	clientConfig
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Revoke a session token",
	RunE:  runLogout,
}

var loginQuiet bool

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)

	addClientFlags(loginCmd, &loginFlags.clientConfig)
	loginCmd.Flags().StringVar(&loginFlags.password, "password", os.Getenv("AUDITDESK_ADMIN_PASSWORD"), "admin password")
	loginCmd.Flags().BoolVarP(&loginQuiet, "quiet", "q", false, "print only the token")

	addClientFlags(logoutCmd, &logoutFlags.clientConfig)
}

func runLogin(cmd *cobra.Command, args []string) error {
	c, err := loginFlags.newClient(false)
	if err != nil {
		return err
	}

	password := loginFlags.password
	if password == "" {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	resp, err := c.Login(ctx, password)
	if err != nil {
		return err
	}

	if loginQuiet {
		fmt.Fprintln(cmd.OutOrStdout(), resp.Token)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Session token (expires in %ds):\n%s\n", resp.ExpiresIn, resp.Token)
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	c, err := logoutFlags.newClient(true)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	if err := c.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
	return nil
}
