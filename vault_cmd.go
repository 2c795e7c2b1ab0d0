package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yangjarod117/webssh/internal/config"
	"github.com/yangjarod117/webssh/internal/database"
	"github.com/yangjarod117/webssh/internal/vault"
)

func newVaultCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vault",
		Short: "Maintain stored credentials and saved connections",
	}
	cmd.AddCommand(newVaultListCmd())
	cmd.AddCommand(newVaultRekeyCmd())
	cmd.AddCommand(newVaultReconcileCmd())
	cmd.AddCommand(newVaultImportCmd())
	return cmd
}

// withVault opens the vault for the duration of fn.
func withVault(fn func(v *vault.Vault) error) error {
	v, err := openVault()
	if err != nil {
		return err
	}
	defer database.Close()
	return fn(v)
}

func newVaultListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored credentials without revealing secrets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withVault(func(v *vault.Vault) error {
				infos, err := v.List()
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tTARGET\tAUTH\tSECRETS\tLAST USED")
				for _, c := range infos {
					fmt.Fprintf(tw, "%s\t%s@%s:%d\t%s\t%s\t%s\n",
						c.ID, c.Username, c.Host, c.Port, c.AuthType, secretFlags(c), c.LastUsedAt.Format(time.RFC3339))
				}
				return tw.Flush()
			})
		},
	}
}

func secretFlags(c vault.CredentialInfo) string {
	s := ""
	for _, f := range []struct {
		set  bool
		name string
	}{
		{c.HasPassword, "password"},
		{c.HasPrivateKey, "key"},
		{c.HasPassphrase, "passphrase"},
	} {
		if !f.set {
			continue
		}
		if s != "" {
			s += ","
		}
		s += f.name
	}
	if s == "" {
		return "-"
	}
	return s
}

func newVaultRekeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rekey",
		Short: "Re-encrypt stored secrets under the current encryption key",
		Long: "Re-encrypt every secret sealed under one of WEBSSH_PREVIOUS_ENCRYPTION_KEYS " +
			"with WEBSSH_ENCRYPTION_KEY. Run it after rotating the key, then drop the old key.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if config.Cfg.EncryptionKey == "" {
				return errors.New("rekey requires WEBSSH_ENCRYPTION_KEY")
			}
			return withVault(func(v *vault.Vault) error {
				n, err := v.Rekey()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Re-encrypted %d credential(s)\n", n)
				return nil
			})
		},
	}
}

func newVaultReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Create saved connections for credentials that have none",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withVault(func(v *vault.Vault) error {
				n, err := v.Reconcile()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created %d saved connection(s)\n", n)
				return nil
			})
		},
	}
}

func newVaultImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import saved connections from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withVault(func(v *vault.Vault) error {
				n, err := v.ImportConnections(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d connection(s)\n", n)
				return nil
			})
		},
	}
}
