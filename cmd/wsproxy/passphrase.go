package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"wsproxy/internal/tunnel"
)

func newHashPassphraseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-passphrase",
		Short: "Print a bcrypt hash for the passphrase_bcrypt setting",
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.NoArgs(cmd, args); err != nil {
				return usageError{err}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := promptPassphrase(cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

// promptPassphrase reads a passphrase and its confirmation from in, one per
// line, and returns the hash.
func promptPassphrase(in io.Reader, prompts io.Writer) (string, error) {
	reader := bufio.NewReader(in)

	fmt.Fprint(prompts, "Enter passphrase: ")
	pass, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	pass = strings.TrimSpace(pass)

	fmt.Fprint(prompts, "Confirm passphrase: ")
	confirm, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	confirm = strings.TrimSpace(confirm)
	fmt.Fprintln(prompts)

	if pass != confirm {
		return "", errors.New("passphrases do not match")
	}
	return tunnel.HashPassphrase(pass)
}
