package main

import (
	"fmt"
	"os"
	"time"

	"github.com/amoylab/evalcoach/internal/mockengine"
	"github.com/amoylab/evalcoach/pkg/version"

	"github.com/spf13/cobra"
)

var (
	opts mockengine.Options

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of mock-engine",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mock-engine version %s\n", version.Get())
		},
	}

	rootCmd = &cobra.Command{
		Use:   "mock-engine",
		Short: "Deterministic UCI engine",
		Long:  `mock-engine speaks UCI on stdin/stdout and scores positions by material, for development without a real engine`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return mockengine.Serve(cmd.InOrStdin(), cmd.OutOrStdout(), opts)
		},
	}
)

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.Flags().StringVar(&opts.Name, "name", "", "engine name reported to the GUI")
	rootCmd.Flags().DurationVar(&opts.DepthDelay, "depth-delay", 50*time.Millisecond, "pause between completed depths")
	rootCmd.Flags().BoolVar(&opts.Noise, "noise", false, "interleave malformed info lines")
	rootCmd.Flags().IntVar(&opts.PVLength, "pv-length", 4, "principal variation length")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
