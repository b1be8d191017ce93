package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telekom/cloudctl/pkg/output"
	"github.com/telekom/cloudctl/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show cloudctl version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := version.GetBuildInfo()

			rt, _ := getRuntime(cmd)
			writer := cmd.OutOrStdout()
			format := output.FormatTable
			if rt != nil {
				writer = rt.Writer()
				f, err := output.ParseFormat(rt.outputFormat)
				if err != nil {
					return err
				}
				format = f
			}
			if format == output.FormatTable {
				_, _ = fmt.Fprintln(writer, info.String())
				return nil
			}
			return output.WriteObject(writer, format, info)
		},
	}
}
