package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/shiquda/xyz-dl/cmd/xyz-dl/cmd/download"
	"github.com/shiquda/xyz-dl/cmd/xyz-dl/cmd/login"
	"github.com/shiquda/xyz-dl/cmd/xyz-dl/cmd/version"
)

var Verbose bool

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "xyz-dl",
	Short: "Download podcasts from Xiaoyuzhou FM, including paid episodes you are entitled to",
	Long: `Download podcasts from Xiaoyuzhou FM.
- Log in once with your phone number to store a reusable session
- Point the download command at a podcast URL, an episode URL, or a bare podcast ID
- Interrupted downloads resume from where they stopped`,
	TraverseChildren: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(login.Cmd)
	rootCmd.AddCommand(download.Cmd)
	rootCmd.AddCommand(version.Cmd)

	rootCmd.PersistentFlags().BoolVarP(&Verbose, "verbose", "V", false, "verbose output")
}
