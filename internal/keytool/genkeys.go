package keytool

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"path/filepath"

	"github.com/dmitrijs2005/credkeeper/internal/common"
	"github.com/dmitrijs2005/credkeeper/internal/filex"
	"github.com/dmitrijs2005/credkeeper/internal/server/auth"
	"github.com/spf13/cobra"
)

// File names written by genkeys; they match the server's default locations.
const (
	SigningKeyFile = "signing.pem"
	PublicKeyFile  = "public.pem"
	HMACSecretFile = "hmac.key"
)

func newGenKeysCmd() *cobra.Command {
	var (
		dir   string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "genkeys",
		Short: "Generate an Ed25519 signing key pair and a refresh token HMAC secret",
		Long: `
Writes three files into the output directory:

  signing.pem  Ed25519 private key, PKCS#8 PEM
  public.pem   matching public key, PKIX PEM
  hmac.key     64 hex characters of random HMAC secret

Existing files are left alone unless --force is given.
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := filex.EnsureDir(dir)
			if err != nil {
				return err
			}

			files, err := generateKeyFiles()
			if err != nil {
				return err
			}

			for _, name := range []string{SigningKeyFile, PublicKeyFile, HMACSecretFile} {
				path := filepath.Join(out, name)
				if err := filex.WriteSecret(path, files[name], force); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "wrote", path)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "out", "o", "keys", "output directory")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite existing files")

	return cmd
}

func generateKeyFiles() (map[string][]byte, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}

	secret, err := common.MakeRandHexString(auth.MinHMACKeyLen)
	if err != nil {
		return nil, fmt.Errorf("generate hmac secret: %w", err)
	}

	return map[string][]byte{
		SigningKeyFile: pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER}),
		PublicKeyFile:  pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}),
		HMACSecretFile: []byte(secret + "\n"),
	}, nil
}
