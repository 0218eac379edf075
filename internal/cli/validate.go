package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/covenant/internal/compiler"
)

// DefinitionReport describes one validated definition file.
type DefinitionReport struct {
	File         string   `json:"file"`
	Valid        bool     `json:"valid"`
	SchemaID     string   `json:"schema_id,omitempty"`
	Fields       int      `json:"fields,omitempty"`
	HashMode     string   `json:"hash_mode,omitempty"`
	PolicyDigest string   `json:"policy_digest,omitempty"`
	Errors       []string `json:"errors,omitempty"`
}

// ValidationResult holds the overall validation outcome.
type ValidationResult struct {
	Definitions []DefinitionReport `json:"definitions"`
	Valid       int                `json:"valid"`
	Invalid     int                `json:"invalid"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <definition.cue | definitions-dir>",
		Short: "Compile definitions and report errors",
		Long: `Compile CUE governance definitions without running anything.

Each definition is compiled in full: schema, policy bundle, service
law, disturbance policy, contracts, and invariants. A definition that
compiles is reported with its schema, field count, and policy digest.

Exit codes:
  0 - All definitions compiled
  1 - One or more definitions failed to compile
  2 - Command error (path not found, no definition files)

Examples:
  covenant validate ./defs
  covenant validate ./defs/meter.cue --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(cmd, opts)

	files, err := findDefinitionFiles(path)
	if err != nil {
		_ = formatter.Error(ErrCodeNotFound, err.Error(), nil)
		return WrapExitError(ExitCommandError, ErrCodeNotFound, err)
	}
	if len(files) == 0 {
		msg := fmt.Sprintf("no definition files found in %s", path)
		_ = formatter.Error(ErrCodeNoFiles, msg, nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", ErrCodeNoFiles, msg))
	}

	formatter.VerboseLog("Found %d definition file(s)", len(files))

	result := ValidationResult{
		Definitions: make([]DefinitionReport, 0, len(files)),
	}
	for _, file := range files {
		report := validateDefinition(file)
		result.Definitions = append(result.Definitions, report)
		if report.Valid {
			result.Valid++
		} else {
			result.Invalid++
		}
	}

	if opts.Format == "json" {
		return outputValidateJSON(formatter, result)
	}
	return outputValidateText(formatter, result)
}

// findDefinitionFiles resolves a path to the CUE files it names: the
// file itself, or every .cue file under the directory.
func findDefinitionFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("path not found: %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("access %s: %w", path, err)
	}

	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.Walk(path, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() || filepath.Ext(p) != ".cue" {
			return nil
		}
		files = append(files, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	return files, nil
}

// validateDefinition compiles one definition file into a report.
func validateDefinition(file string) DefinitionReport {
	report := DefinitionReport{File: file}

	src, err := os.ReadFile(file)
	if err != nil {
		report.Errors = []string{fmt.Sprintf("read: %v", err)}
		return report
	}

	def, err := compiler.CompileString(string(src))
	if err != nil {
		report.Errors = []string{err.Error()}
		return report
	}

	digest, err := def.Bundle.Digest()
	if err != nil {
		report.Errors = []string{fmt.Sprintf("policy digest: %v", err)}
		return report
	}

	report.Valid = true
	report.SchemaID = def.Schema.ID()
	report.Fields = len(def.Fields)
	report.HashMode = string(def.Bundle.HashMode)
	report.PolicyDigest = string(digest)
	return report
}

// outputValidateJSON outputs the validation result as JSON.
func outputValidateJSON(formatter *OutputFormatter, result ValidationResult) error {
	resp := CLIResponse{
		Status: "ok",
		Data:   result,
	}
	if result.Invalid > 0 {
		resp.Status = "error"
		resp.Error = &CLIError{
			Code:    ErrCodeCompile,
			Message: fmt.Sprintf("%d definition(s) failed to compile", result.Invalid),
		}
	}
	if err := formatter.writeJSON(resp); err != nil {
		return err
	}

	if result.Invalid > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed: %d definition(s) invalid", result.Invalid))
	}
	return nil
}

// outputValidateText outputs the validation result as text.
func outputValidateText(formatter *OutputFormatter, result ValidationResult) error {
	w := formatter.Writer

	for _, report := range result.Definitions {
		if report.Valid {
			fmt.Fprintf(w, "✓ %s: schema %s, %d field(s), %s\n",
				report.File, report.SchemaID, report.Fields, report.HashMode)
			formatter.VerboseLog("  policy %s", report.PolicyDigest)
			continue
		}
		fmt.Fprintf(w, "✗ %s\n", report.File)
		for _, msg := range report.Errors {
			fmt.Fprintf(w, "    %s\n", msg)
		}
	}

	fmt.Fprintln(w)
	if result.Invalid > 0 {
		fmt.Fprintf(w, "✗ Validation failed: %d of %d definition(s) invalid\n",
			result.Invalid, len(result.Definitions))
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed: %d definition(s) invalid", result.Invalid))
	}

	fmt.Fprintln(w, "✓ All definitions valid")
	return nil
}
