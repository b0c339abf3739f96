package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/reshala/support-desk/internal/auth"
)

var hashCost int

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password [password]",
	Short: "Print the bcrypt hash for AUTH_SERVICE_PASSWORD_HASH",
	Long:  "Hashes the password given as argument, or the first line of stdin when no argument is given.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHashPassword,
}

func init() {
	hashPasswordCmd.Flags().IntVar(&hashCost, "cost", 12, "bcrypt cost")
}

func runHashPassword(cmd *cobra.Command, args []string) error {
	var password string
	if len(args) == 1 {
		password = args[0]
	} else {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}
	if password == "" {
		return errors.New("password must not be empty")
	}
	hash, err := auth.HashPassword(password, hashCost)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), hash)
	return nil
}
