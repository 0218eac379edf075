package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/covenant/internal/canon"
	"github.com/roach88/covenant/internal/compiler"
	"github.com/roach88/covenant/internal/harness"
	"github.com/roach88/covenant/internal/state"
)

// DigestOptions holds flags for the digest command.
type DigestOptions struct {
	*RootOptions
	Mode string
}

// DigestReport holds the canonical digest of one state file.
type DigestReport struct {
	SchemaID string `json:"schema_id"`
	CanonID  string `json:"canon_id"`
	HashMode string `json:"hash_mode"`
	Bytes    int    `json:"bytes"`
	Digest   string `json:"digest"`
}

// NewDigestCommand creates the digest command.
func NewDigestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DigestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "digest <definition.cue> <state.yaml>",
		Short: "Compute the canonical digest of a state",
		Long: `Compute the canonical state digest for a state file.

The state file is a flat YAML mapping of declared field names to
values. Values are typed by the definition's schema, serialized under
the sorted-key canon, and hashed. Two parties holding the same state
under the same definition always derive the same digest.

The definition's policy bundle picks the hash mode; --mode overrides
it for cross-checking against a chain produced under another mode.

Exit codes:
  0 - Digest computed
  1 - State rejected (undeclared field, type mismatch, float policy)
  2 - Command error (unreadable file, bad definition, unknown mode)

Examples:
  covenant digest ./defs/meter.cue ./state.yaml
  covenant digest ./defs/meter.cue ./state.yaml --mode sha2_256
  covenant digest ./defs/meter.cue ./state.yaml --format json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDigest(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Mode, "mode", "", "hash mode override (sha3_256|sha2_256|blake2b_256)")

	return cmd
}

func runDigest(opts *DigestOptions, defPath, statePath string, cmd *cobra.Command) error {
	formatter := newFormatter(cmd, opts.RootOptions)

	src, err := os.ReadFile(defPath)
	if err != nil {
		_ = formatter.Error(ErrCodeNotFound, err.Error(), nil)
		return WrapExitError(ExitCommandError, "read definition", err)
	}
	def, err := compiler.CompileString(string(src))
	if err != nil {
		_ = formatter.Error(ErrCodeCompile, err.Error(), nil)
		return WrapExitError(ExitCommandError, "compile definition", err)
	}

	mode := def.Bundle.HashMode
	if opts.Mode != "" {
		mode = canon.HashMode(opts.Mode)
		if !mode.Valid() {
			msg := fmt.Sprintf("unknown hash mode %q", opts.Mode)
			_ = formatter.Error(ErrCodeGeneric, msg, nil)
			return NewExitError(ExitCommandError, msg)
		}
	}

	raw, err := os.ReadFile(statePath)
	if err != nil {
		_ = formatter.Error(ErrCodeNotFound, err.Error(), nil)
		return WrapExitError(ExitCommandError, "read state file", err)
	}
	var fields map[string]any
	if err := yaml.Unmarshal(raw, &fields); err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitFailure, "parse state file", err)
	}

	values, err := harness.ConvertFields(def, fields)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitFailure, "state rejected", err)
	}
	st, err := state.New(def.Schema, values)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitFailure, "state rejected", err)
	}

	bytes, err := canon.StateBytes(st, def.Bundle.FloatPolicy)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitFailure, "state rejected", err)
	}
	digest, err := canon.StateDigest(st, mode, def.Bundle.FloatPolicy)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitFailure, "state rejected", err)
	}

	report := DigestReport{
		SchemaID: def.Schema.ID(),
		CanonID:  canon.StateCanonID,
		HashMode: string(mode),
		Bytes:    len(bytes),
		Digest:   string(digest),
	}

	if opts.Format == "json" {
		return formatter.Success(report)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "Schema: %s\n", report.SchemaID)
	fmt.Fprintf(w, "Canon:  %s (%d bytes)\n", report.CanonID, report.Bytes)
	fmt.Fprintf(w, "Mode:   %s\n", report.HashMode)
	fmt.Fprintf(w, "Digest: %s\n", report.Digest)
	return nil
}
