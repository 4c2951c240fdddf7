package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/chronologos/pixelrelay/internal/version"
)

func versionCmd() *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		// Skip config loading; version must work with a broken config.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			if short {
				fmt.Println(version.VERSION)
				return
			}
			fmt.Printf("pixelrelay %s\n", version.String())
			fmt.Printf("  Go version: %s\n", runtime.Version())
			fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}

	cmd.Flags().BoolVarP(&short, "short", "s", false, "Print only version number")

	return cmd
}
