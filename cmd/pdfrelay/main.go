// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Command pdfrelay serves the PDF relay endpoint.
package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/z5labs/pdfrelay/app"
	"github.com/z5labs/pdfrelay/config"
	"github.com/z5labs/pdfrelay/internal/try"
	"github.com/z5labs/pdfrelay/service"

	"github.com/spf13/cobra"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stderr))
}

func run(ctx context.Context, args []string, stderr io.Writer) int {
	cmd := newCmd()
	cmd.SetArgs(args)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(stderr, err)
	}
	return app.ExitCode(err)
}

func newCmd() *cobra.Command {
	var configFiles []string

	cmd := &cobra.Command{
		Use:           "pdfrelay",
		Short:         "Fetch PDFs from storage and relay them to a webhook",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			srcs := []config.Source{
				config.FromYaml(config.RenderTextTemplate(
					bytes.NewReader(service.DefaultConfig),
					config.TemplateName("default_config.yaml"),
				)),
			}
			for _, path := range configFiles {
				b, err := readFile(path)
				if err != nil {
					return err
				}
				srcs = append(srcs, config.FromYaml(config.RenderTextTemplate(
					bytes.NewReader(b),
					config.TemplateName(path),
				)))
			}

			return app.Run(cmd.Context(), app.BuilderFunc[service.Config](service.Init), srcs...)
		},
	}
	cmd.Flags().StringSliceVar(&configFiles, "config", nil, "additional YAML config files, later files override earlier ones")
	return cmd
}

func readFile(path string) (_ []byte, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer try.Close(&err, f)

	return io.ReadAll(f)
}
