package app

import "github.com/spf13/cobra"

func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jitaccess",
		Short: "Just-in-time privileged access for Google Cloud projects",
	}

	cmd.AddCommand(
		serve(),
		versionCommand(),
	)

	return cmd
}
