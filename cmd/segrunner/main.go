package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "segrunner",
		Short: "segrunner - TotalSegmentator run orchestration",
		Long: `segrunner drives TotalSegmentator over DICOM series: it exports the
source slices into a private workspace, launches the tool in the
configured Python environment, classifies and imports the results,
and updates the attached viewer.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
