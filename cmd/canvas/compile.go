package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/canvasmesh/canvas/internal/compiler"
	"github.com/canvasmesh/canvas/internal/logger"
	"github.com/canvasmesh/canvas/internal/model"
)

type compileOptions struct {
	ModuleDir   string
	ConfigFile  string
	OutputDir   string
	MappingFile string
	Package     string
	Extra       []string
	Verbose     bool
}

var compileCmdRunner = runCompile

func newCompileCmd(root *rootFlags) *cobra.Command {
	opts := compileOptions{}

	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile a pipeline configuration into transport artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Verbose = root.verbose
			return compileCmdRunner(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ModuleDir, "module-dir", "m", ".", "Module directory to compile")
	cmd.Flags().StringVarP(&opts.ConfigFile, "config", "c", "", "Explicit configuration file (skips discovery)")
	cmd.Flags().StringVarP(&opts.OutputDir, "output", "o", "", "Directory receiving generated artifacts")
	cmd.Flags().StringVar(&opts.MappingFile, "mapping", "", "Runtime mapping file")
	cmd.Flags().StringVar(&opts.Package, "package", "pipeline", "Package name for generated Go sources")
	cmd.Flags().StringArrayVarP(&opts.Extra, "option", "D", nil,
		"Compiler option key=value (descriptor.file, descriptor.path, module.name)")

	return cmd
}

func runCompile(cmd *cobra.Command, opts compileOptions) error {
	level := "info"
	if opts.Verbose {
		level = "debug"
	}
	log, err := logger.New(logger.Options{Level: level, HumanReadable: true})
	if err != nil {
		return err
	}

	compilerOpts := compiler.Options{
		ModuleDir:   opts.ModuleDir,
		ConfigFile:  opts.ConfigFile,
		OutputDir:   opts.OutputDir,
		MappingFile: opts.MappingFile,
		Package:     opts.Package,
		Log:         log,
	}
	for _, pair := range opts.Extra {
		key, value, found := strings.Cut(pair, "=")
		if !found || !compilerOpts.ApplyOption(key, value) {
			return fmt.Errorf("unknown compiler option %q", pair)
		}
	}

	result, err := compiler.NewDriver().Compile(cmd.Context(), compilerOpts)
	if result != nil {
		for _, diag := range result.Reporter.Diagnostics() {
			if diag.Severity != model.SeverityInfo {
				fmt.Fprintln(cmd.ErrOrStderr(), diag.String())
			}
		}
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "compiled %s: %d steps, %d artifacts\n",
		result.Config.AppName, len(result.Expanded), len(result.Artifacts))
	return nil
}
