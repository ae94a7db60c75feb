package app

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"go.arvum.net/jitaccess/pkg/version"
)

func versionCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Get()

			switch output {
			case "json":
				data, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
			case "short":
				fmt.Println(info.GitVersion)
			default:
				fmt.Printf("Version: %s\n", info.GitVersion)
				fmt.Printf("Git commit: %s\n", info.GitCommit)
				fmt.Printf("Build date: %s\n", info.BuildDate)
				fmt.Printf("Go version: %s\n", info.GoVersion)
				fmt.Printf("Platform: %s\n", info.Platform)
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output format. One of: json|short")

	return cmd
}
