package output

import (
	"fmt"
	"os"
)

// WriteMarkdown writes the summary to a Markdown file.
func WriteMarkdown(filename string, s Summary) error {
	f, err := os.Create(filename) //nolint:gosec // output path supplied by the operator
	if err != nil {
		return fmt.Errorf("create summary: %w", err)
	}
	defer f.Close() //nolint:errcheck // best-effort report

	w := func(format string, args ...any) {
		fmt.Fprintf(f, format, args...)
	}

	w("# gocachereplay Results\n\n")
	w("```\n")
	w("Command: %s\n", s.MachineInfo.CommandLine)
	w("Environment: %s/%s, %d CPUs, %s\n", s.MachineInfo.OS, s.MachineInfo.Arch, s.MachineInfo.NumCPU, s.MachineInfo.GoVersion)
	w("```\n\n")

	w("| Trace | Backend | Workers | Items | Hits | Misses | Hit rate | Requeues | Dropped | Elapsed | Items/s |\n")
	w("|-------|---------|---------|-------|------|--------|----------|----------|---------|---------|---------|\n")
	w("| %s | %s | %d | %d | %d | %d | %.2f%% | %d | %d | %s | %.0f |\n",
		s.Trace, s.Backend, s.Workers, s.Items, s.Hits, s.Misses, s.HitRate(), s.Requeues, s.Dropped, s.Elapsed, s.Throughput())
	if s.LogFile != "" {
		w("\nRun log: `%s`\n", s.LogFile)
	}
	return nil
}
