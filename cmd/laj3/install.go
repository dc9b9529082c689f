package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/laj3/laj3/internal/client"
	"github.com/spf13/cobra"
)

func (a *app) installCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install URI",
		Short: "Fetch the files missing from a manifest",
		Long: `Send a manifest to the server at URI (host:port/resource) and save the
archive of files the server has and the manifest lacks or lists with a
different digest.`,
		Example: "  laj3 install 127.0.0.1:7878/app -f app.dict -x ./app",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := bindFlags(a.v, cmd.Flags(), map[string]string{
				"client.manifest":     "file",
				"client.output":       "output",
				"client.extract_dir":  "extract",
				"client.dial_timeout": "dial-timeout",
				"client.timeout":      "timeout",
			})
			if err != nil {
				return err
			}

			cfg := &client.Config{
				URI:          args[0],
				ManifestPath: a.v.GetString("client.manifest"),
				OutputPath:   a.v.GetString("client.output"),
				ExtractDir:   a.v.GetString("client.extract_dir"),
				DialTimeout:  a.v.GetDuration("client.dial_timeout"),
				Timeout:      a.v.GetDuration("client.timeout"),
			}

			res, err := client.Install(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			printInstallResult(cmd.OutOrStdout(), res)
			return nil
		},
	}

	cmd.Flags().SortFlags = false
	cmd.Flags().StringP("file", "f", "", "manifest to send (required)")
	cmd.Flags().StringP("output", "o", client.DefaultOutputPath, "where to save the archive")
	cmd.Flags().StringP("extract", "x", "", "also unpack the archive into this directory")
	cmd.Flags().Duration("dial-timeout", client.DefaultDialTimeout, "connect timeout")
	cmd.Flags().Duration("timeout", 0, "limit for the whole exchange, 0 for none")
	return cmd
}

func printInstallResult(w io.Writer, res *client.Result) {
	fmt.Fprintf(w, "%s %d files from %s %s\n",
		green.Render("✓ received"),
		len(res.Files),
		bold.Render(res.Host),
		gray.Render(fmt.Sprintf("(%s in %s)", humanize.Bytes(uint64(res.Bytes)), res.Took.Round(time.Millisecond))),
	)
	for _, f := range res.Files {
		fmt.Fprintln(w, "  "+gray.Render(f))
	}
	fmt.Fprintf(w, "saved to %s\n", cyan.Render(res.OutputPath))
	if res.Extracted > 0 {
		fmt.Fprintf(w, "extracted %d files\n", res.Extracted)
	}
}
