package commands

import (
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"skyquery/lib/credstore"
	"skyquery/lib/osutil"
)

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(loginsCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login <archive>",
	Short: "Store credentials for an archive in the system keyring.",
	Long: "Store credentials for an archive in the system keyring.\n" +
		"Queries pick them up automatically. \"ads\" takes an api token,\n" +
		"the rest take a username and password.",
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		archive := strings.ToLower(args[0])
		store := openCredstore()

		if archive == "ads" {
			token, err := pterm.DefaultInteractiveTextInput.WithMask("*").Show("API token")
			if err != nil {
				osutil.Fatal("failed to read token", err)
			}
			err = store.SetToken(archive, strings.TrimSpace(token))
			if err != nil {
				osutil.Fatal("failed to store token", err)
			}
			pterm.Println(pterm.NewStyle(pterm.FgGreen).Sprint("token stored for " + archive))
			return
		}

		username, err := pterm.DefaultInteractiveTextInput.Show("Username")
		if err != nil {
			osutil.Fatal("failed to read username", err)
		}
		password, err := pterm.DefaultInteractiveTextInput.WithMask("*").Show("Password")
		if err != nil {
			osutil.Fatal("failed to read password", err)
		}

		err = store.SetCredentials(archive, credstore.Credentials{
			Username: strings.TrimSpace(username),
			Password: password,
		})
		if err != nil {
			osutil.Fatal("failed to store credentials", err)
		}
		pterm.Println(pterm.NewStyle(pterm.FgGreen).Sprint("credentials stored for " + archive))
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout <archive>",
	Short: "Drop the stored credentials of an archive.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		archive := strings.ToLower(args[0])
		store := openCredstore()

		err := store.Delete(archive)
		if err != nil {
			osutil.Fatal("failed to delete credentials", err)
		}
		pterm.Println(pterm.NewStyle(pterm.FgGreen).Sprint("credentials dropped for " + archive))
	},
}

var loginsCmd = &cobra.Command{
	Use:   "logins",
	Short: "List the archives with stored credentials.",
	Run: func(cmd *cobra.Command, args []string) {
		store := openCredstore()

		archives, err := store.Archives()
		if err != nil {
			osutil.Fatal("failed to list credentials", err)
		}
		if len(archives) == 0 {
			pterm.Println("no stored credentials")
			return
		}
		for _, name := range archives {
			pterm.Println(name)
		}
	},
}
