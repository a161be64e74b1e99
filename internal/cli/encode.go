package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/turnseq/internal/harness"
	"github.com/roach88/turnseq/internal/ingest"
)

// EncodeOptions holds flags for the encode command.
type EncodeOptions struct {
	*RootOptions
	Output string // output file path, stdout when empty
}

// EncodeResult summarizes an encode run.
type EncodeResult struct {
	Events int    `json:"events"`
	Output string `json:"output"`
}

// NewEncodeCommand creates the encode command.
func NewEncodeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EncodeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "encode <events.yaml>",
		Short: "Encode a YAML event list as producer frames",
		Long: `Encode a YAML list of producer events as length-prefixed msgpack
frames, the input format of "turnseq run".

Events use the scenario step syntax:

  - {type: delta, stream: A, key: [1, 0, 1], content: "Hel"}
  - {type: final, stream: A, key: [1, 0, 2], content: "Hello"}
  - {type: interrupt}

Examples:
  turnseq encode events.yaml -o events.bin
  turnseq encode events.yaml | turnseq run --db ./turnseq.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEncode(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path (default stdout)")

	return cmd
}

func runEncode(opts *EncodeOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	data, err := os.ReadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read events", err)
	}
	specs, err := parseEventList(data)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("invalid events in %s", path), err)
	}

	var out bytes.Buffer
	enc := ingest.NewFrameEncoder(&out)
	for i, spec := range specs {
		ev, err := spec.Event()
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("invalid events in %s", path), fmt.Errorf("[%d]: %w", i, err))
		}
		if err := enc.WriteEvent(ev); err != nil {
			return WrapExitError(ExitCommandError, "failed to encode event", fmt.Errorf("[%d]: %w", i, err))
		}
		formatter.VerboseLog("[%d] %s", i, ev.Kind())
	}

	// Frames go to stdout unless -o is set; the summary would corrupt them.
	if opts.Output == "" {
		_, err := io.Copy(cmd.OutOrStdout(), &out)
		return err
	}
	if err := os.WriteFile(opts.Output, out.Bytes(), 0644); err != nil {
		return WrapExitError(ExitCommandError, "failed to write frames", err)
	}

	result := EncodeResult{Events: len(specs), Output: opts.Output}
	if opts.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "Encoded %d event(s) to %s\n", result.Events, result.Output)
	return nil
}

// parseEventList decodes a YAML sequence of event specs, rejecting unknown
// fields.
func parseEventList(data []byte) ([]harness.EventSpec, error) {
	var specs []harness.EventSpec
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&specs); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("no events")
		}
		return nil, err
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("no events")
	}
	return specs, nil
}
