package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/OpenNSW/pipeline/internal/pipeline/model"
	"github.com/OpenNSW/pipeline/internal/pipeline/seed"
)

var definitionsFile string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load pipeline definitions into the database",
	Long: `Seed validates every definition in the file and saves them in order.
Existing pipelines with the same code are updated in place and get a new version.`,
	RunE: runSeed,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a definitions file without saving it",
	RunE:  runValidate,
}

func init() {
	for _, cmd := range []*cobra.Command{seedCmd, validateCmd} {
		cmd.Flags().StringVarP(&definitionsFile, "file", "f", "", "Definitions file (default: pipeline.definitions_path)")
	}
}

func resolveDefinitionsFile(configured string) (string, error) {
	if definitionsFile != "" {
		return definitionsFile, nil
	}
	if configured == "" {
		return "", fmt.Errorf("no definitions file given, use --file or set PIPELINE_DEFINITIONS_PATH")
	}
	return configured, nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	a, closeApp, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer closeApp()

	path, err := resolveDefinitionsFile(a.Config.Pipeline.DefinitionsPath)
	if err != nil {
		return err
	}
	if err := a.Migrate(); err != nil {
		return err
	}
	saved, err := seed.ApplyFile(cmd.Context(), a.Registry, path)
	if err != nil {
		return err
	}
	return printPipelines(cmd.OutOrStdout(), saved)
}

func runValidate(cmd *cobra.Command, args []string) error {
	a, closeApp, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer closeApp()

	path, err := resolveDefinitionsFile(a.Config.Pipeline.DefinitionsPath)
	if err != nil {
		return err
	}
	return validateFile(cmd.OutOrStdout(), a.Registry, path)
}

func validateFile(out io.Writer, v seed.Validator, path string) error {
	defs, err := seed.LoadFile(path)
	if err != nil {
		return err
	}
	if err := seed.ValidateAll(v, defs); err != nil {
		return err
	}
	fmt.Fprintf(out, "%d pipeline definitions are valid\n", len(defs))
	return nil
}

func printPipelines(out io.Writer, pipelines []*model.Pipeline) error {
	if outputFmt == "json" || outputFmt == "yaml" {
		return printOutput(out, pipelines)
	}
	rows := make([][]string, 0, len(pipelines))
	for _, p := range pipelines {
		rows = append(rows, []string{
			p.Code,
			p.EntityType,
			strconv.Itoa(p.Version),
			strconv.FormatBool(p.Active),
			strconv.Itoa(len(p.States)),
		})
	}
	printTable(out, []string{"Code", "Entity Type", "Version", "Active", "States"}, rows)
	return nil
}
