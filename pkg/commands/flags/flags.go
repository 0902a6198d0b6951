// Package flags provides the flags shared by viewctl commands.
//
// Command-specific flags are defined next to the command that uses them.
package flags

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// MustString returns the string value, ignoring the error.
// Safe to use with registered flags where GetString cannot fail.
func MustString(s string, _ error) string { return s }

// MustStringSlice returns the string slice value, ignoring the error.
func MustStringSlice(s []string, _ error) []string { return s }

// Config adds the required --config/-c flag naming the pipeline file.
// Retrieve the value with cmd.Flags().GetString("config").
func Config(cmd *cobra.Command) {
	cmd.Flags().StringP("config", "c", "", "Pipeline file, .yaml, .toml or .json (required)")
	_ = cmd.MarkFlagRequired("config")
}

// Format adds the --format/-f flag selecting the output encoding. An empty
// value defers to the pipeline settings.
func Format(cmd *cobra.Command) {
	cmd.Flags().StringP("format", "f", "", "Output format: json, yaml or toml (default from settings)")
}

// View adds the repeatable --view flag selecting views by name.
// Retrieve the value with cmd.Flags().GetStringSlice("view").
func View(cmd *cobra.Command) {
	cmd.Flags().StringSlice("view", nil, "View to output, repeatable (default: the source and every view)")
}

// Output adds the --out/-o flag for the output file path. --output is accepted
// as an alias.
// Retrieve the value with cmd.Flags().GetString("out").
func Output(cmd *cobra.Command) {
	cmd.Flags().StringP("out", "o", "", "Output file path (default: stdout)")

	existingNormalize := cmd.Flags().GetNormalizeFunc()
	cmd.Flags().SetNormalizeFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		if name == "output" {
			return pflag.NormalizedName("out")
		}
		if existingNormalize != nil {
			return existingNormalize(f, name)
		}

		return pflag.NormalizedName(name)
	})
}
