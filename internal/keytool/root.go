// Package keytool implements the credkeeper operator CLI: generating key
// material for a deployment, hashing passwords for seeding, and talking
// to a running server to obtain or inspect tokens.
package keytool

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd builds the command tree. in, out and errOut replace the
// process streams, for tests.
func NewRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "keytool",
		Short:         "Operator tooling for the credkeeper server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	root.AddCommand(newGenKeysCmd())
	root.AddCommand(newHashPasswordCmd())
	root.AddCommand(newLoginCmd())
	root.AddCommand(newVerifyCmd())

	return root
}

// Execute runs the CLI against the process streams and exits non-zero on error.
func Execute() {
	if err := NewRootCmd(os.Stdin, os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
