package main

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/pqvpn/pqvpn/pkg/cryptocore"
	"github.com/pqvpn/pqvpn/pkg/identitystore"
	"github.com/pqvpn/pqvpn/pkg/logging"
)

func newKeygenCommand() *cobra.Command {
	var (
		sigScheme string
		outPath   string
		force     bool
	)

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new node identity and encrypt it to disk",
		RunE: func(cmd *cobra.Command, args []string) error {
			if identitystore.Exists(outPath) && !force {
				return fmt.Errorf("%s already exists, pass --force to overwrite", outPath)
			}

			provider, err := cryptocore.NewProvider(sigScheme)
			if err != nil {
				return fmt.Errorf("unsupported signature scheme: %w", err)
			}

			staticPub, staticPriv, err := provider.GenerateStaticKeypair()
			if err != nil {
				return fmt.Errorf("generating static keypair: %w", err)
			}
			signPub, signPriv, err := provider.Signer().GenerateKeypair()
			if err != nil {
				return fmt.Errorf("generating signing keypair: %w", err)
			}

			passphrase, err := readPassphraseTwice(cmd)
			if err != nil {
				return err
			}

			id := &identitystore.Identity{
				SignatureScheme:   sigScheme,
				StaticPublicKey:   staticPub,
				StaticPrivateKey:  staticPriv,
				SigningPublicKey:  signPub,
				SigningPrivateKey: signPriv,
				CreatedAt:         time.Now(),
			}
			if err := identitystore.Save(id, passphrase, outPath); err != nil {
				return fmt.Errorf("saving identity: %w", err)
			}
			logging.GetDefaultLogger().Info("keygen: wrote identity", logging.Fields{
				"path": outPath, "signature_scheme": sigScheme,
			})

			fmt.Fprintf(cmd.OutOrStdout(), "wrote identity to %s\n", outPath)
			fmt.Fprintf(cmd.OutOrStdout(), "static public key (share this with peers):\n%s\n",
				base64.StdEncoding.EncodeToString(staticPub))
			return nil
		},
	}

	cmd.Flags().StringVar(&sigScheme, "signature-scheme", "Dilithium2", "signature scheme (Dilithium2, Falcon-512, SPHINCS+-SHAKE-128s-simple)")
	cmd.Flags().StringVar(&outPath, "out", "identity.json", "path to write the encrypted identity file")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing identity file")
	return cmd
}

func readPassphraseTwice(cmd *cobra.Command) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("reading passphrase: %w", err)
		}
		return trimNewline(line), nil
	}

	fmt.Fprint(cmd.OutOrStdout(), "passphrase: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.OutOrStdout())
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}

	fmt.Fprint(cmd.OutOrStdout(), "confirm passphrase: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.OutOrStdout())
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}

	if string(first) != string(second) {
		return "", fmt.Errorf("passphrases did not match")
	}
	return string(first), nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
