package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/remiblancher/provkit/pkg/c2pa"
	pcrypto "github.com/remiblancher/provkit/pkg/crypto"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version, formats and algorithms",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "provkit %s\n", version)
		fmt.Fprintf(out, "  Commit:     %s\n", commit)
		fmt.Fprintf(out, "  Built:      %s\n", date)
		fmt.Fprintf(out, "  Formats:    ")
		for i, f := range c2pa.SupportedFormats() {
			if i > 0 {
				fmt.Fprint(out, ", ")
			}
			fmt.Fprint(out, f)
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, "  Algorithms:")
		for _, alg := range pcrypto.AllSigningAlgorithms() {
			fmt.Fprintf(out, "    %-8s %s\n", alg, alg.Description())
		}
		return nil
	},
}
