package commands

import (
	"io"
	"strings"

	"checkind-backend/lib/auth"
	"checkind-backend/lib/providers"
	"checkind-backend/lib/util/serviceutil"
	"checkind-backend/services/checkin"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(accountsCmd)
}

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Shows the resolved account list without processing anything.",
	Run: func(cmd *cobra.Command, args []string) {
		env := envMap()

		registry := providers.NewRegistry()
		if overrides := checkin.ProviderOverrides(env); overrides != "" {
			err := registry.RegisterOverrides(overrides)
			if err != nil {
				serviceutil.Fatal("failed to parse provider overrides", err)
			}
		}

		accounts, err := checkin.ResolveAccounts(env)
		if err != nil {
			serviceutil.Fatal("failed to resolve accounts", err)
		}
		printAccounts(cmd.OutOrStdout(), accounts, registry)
	},
}

func printAccounts(out io.Writer, accounts []auth.Account, registry *providers.Registry) {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"Name", "Provider", "Credentials", "Known"})
	for _, a := range accounts {
		var material []string
		if a.HasPassword() {
			material = append(material, "password")
		}
		if a.HasCookies() {
			material = append(material, "cookies")
		}
		known := "yes"
		if _, err := registry.Lookup(a.Provider); err != nil {
			known = "no"
		}
		t.AppendRow(table.Row{a.Name, a.Provider, strings.Join(material, "+"), known})
	}
	t.Render()
}
