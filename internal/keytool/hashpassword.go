package keytool

import (
	"fmt"

	"github.com/dmitrijs2005/credkeeper/internal/common"
	"github.com/dmitrijs2005/credkeeper/internal/server/auth"
	"github.com/dmitrijs2005/credkeeper/internal/server/validation"
	"github.com/spf13/cobra"
)

func newHashPasswordCmd() *cobra.Command {
	var (
		algorithm  string
		cost       int
		skipPolicy bool
	)

	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Read a password and print its hash",
		Long: `
Reads a password from the terminal (without echo) or from stdin and prints
the hash the server would store for it. The password must satisfy the
registration policy unless --skip-policy is given.
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			hasher, err := auth.NewPasswordHasher(algorithm, cost)
			if err != nil {
				return err
			}

			pw, err := readSecret(cmd.InOrStdin(), cmd.ErrOrStderr(), "Enter password: ")
			if err != nil {
				return err
			}
			defer common.WipeByteArray(pw)

			if !skipPolicy {
				if err := validation.New().Password(string(pw)); err != nil {
					return err
				}
			}

			hash, err := hasher.Hash(string(pw))
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}

	cmd.Flags().StringVarP(&algorithm, "algorithm", "a", auth.AlgorithmBcrypt, "bcrypt or argon2id")
	cmd.Flags().IntVarP(&cost, "cost", "c", auth.DefaultBcryptCost, "bcrypt cost")
	cmd.Flags().BoolVar(&skipPolicy, "skip-policy", false, "do not enforce the password policy")

	return cmd
}
