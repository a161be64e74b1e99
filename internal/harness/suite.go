package harness

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// ScenarioNotFoundError is returned when a scenario path doesn't exist.
type ScenarioNotFoundError struct {
	Path string
}

// Error implements the error interface.
func (e *ScenarioNotFoundError) Error() string {
	return fmt.Sprintf("scenario path %q does not exist", e.Path)
}

// FindScenarios resolves a file or directory to scenario files. A
// directory is walked recursively for .yaml and .yml files whose base name
// (without extension) matches filter, a filepath.Match pattern; an empty
// filter matches everything. Results are sorted for a stable run order.
func FindScenarios(path, filter string) ([]string, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, &ScenarioNotFoundError{Path: path}
	}
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var paths []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		ext := filepath.Ext(p)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(p), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}

		paths = append(paths, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", path, err)
	}
	slices.Sort(paths)
	return paths, nil
}

// SuiteOptions configures RunSuite.
type SuiteOptions struct {
	// GoldenDir holds {name}.golden snapshots. Empty disables golden
	// comparison. A scenario without a golden file is checked by its
	// assertions only.
	GoldenDir string

	// Update rewrites golden files instead of comparing them.
	Update bool

	// Logger receives sequencer output. Nil discards it.
	Logger *slog.Logger
}

// SuiteResult summarizes a scenario suite run.
type SuiteResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Total     int              `json:"total"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
}

// ScenarioResult is the outcome of one scenario file.
type ScenarioResult struct {
	Name          string   `json:"name"`
	Path          string   `json:"path"`
	Pass          bool     `json:"pass"`
	Entries       int      `json:"entries"`
	GoldenUpdated bool     `json:"golden_updated,omitempty"`
	Errors        []string `json:"errors,omitempty"`
}

// RunSuite loads and runs each scenario file. Load, execution and golden
// errors count as failures; the suite always runs to the end.
//
// For each path:
// 1. Load the scenario
// 2. Run it via RunContext
// 3. Collect invariant violations and assertion errors
// 4. Compare against, or update, the golden snapshot
func RunSuite(ctx context.Context, paths []string, opts SuiteOptions) *SuiteResult {
	result := &SuiteResult{Scenarios: make([]ScenarioResult, 0, len(paths))}

	for _, path := range paths {
		sr := runOne(ctx, path, opts)
		result.Total++
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
		result.Scenarios = append(result.Scenarios, sr)
	}

	return result
}

func runOne(ctx context.Context, path string, opts SuiteOptions) ScenarioResult {
	sr := ScenarioResult{Name: filepath.Base(path), Path: path}
	fail := func(format string, args ...any) ScenarioResult {
		sr.Errors = append(sr.Errors, fmt.Sprintf(format, args...))
		return sr
	}

	scenario, err := LoadScenario(path)
	if err != nil {
		return fail("failed to load scenario: %v", err)
	}
	sr.Name = scenario.Name

	run, err := RunContext(ctx, scenario, opts.Logger)
	if err != nil {
		return fail("execution failed: %v", err)
	}
	sr.Entries = len(run.Entries)
	for _, v := range run.Violations {
		sr.Errors = append(sr.Errors, v.String())
	}
	sr.Errors = append(sr.Errors, run.Errors...)

	if opts.GoldenDir != "" {
		if err := checkGolden(scenario.Name, run, opts, &sr); err != nil {
			sr.Errors = append(sr.Errors, err.Error())
		}
	}

	sr.Pass = len(sr.Errors) == 0
	return sr
}

// checkGolden compares the run against {GoldenDir}/{name}.golden, or writes
// it when updating.
func checkGolden(name string, run *Result, opts SuiteOptions, sr *ScenarioResult) error {
	snapshot, err := Snapshot(name, run)
	if err != nil {
		return fmt.Errorf("failed to render snapshot: %w", err)
	}
	goldenPath := filepath.Join(opts.GoldenDir, name+".golden")

	if opts.Update {
		if err := os.MkdirAll(opts.GoldenDir, 0755); err != nil {
			return fmt.Errorf("failed to create golden directory: %w", err)
		}
		if err := os.WriteFile(goldenPath, snapshot, 0644); err != nil {
			return fmt.Errorf("failed to write golden file: %w", err)
		}
		sr.GoldenUpdated = true
		return nil
	}

	golden, err := os.ReadFile(goldenPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read golden file: %w", err)
	}
	if !bytes.Equal(golden, snapshot) {
		return fmt.Errorf("history does not match %s (run with --update to regenerate)", goldenPath)
	}
	return nil
}
