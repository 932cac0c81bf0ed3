package correlate

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
)

var csvHeader = []string{"session_id", "t0_seq", "t0_ts_ms", "hit_seq", "hit_ts_ms", "offset_ms"}

// WriteCSV writes matches to path, creating parent directories as needed.
// Numeric fields are formatted to millisecond precision (3 decimals),
// matching timing_correlation_report.py's write_csv.
func WriteCSV(matches []Match, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("correlate: mkdir for %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("correlate: create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("correlate: write header: %w", err)
	}
	for _, m := range matches {
		row := []string{
			m.SessionID,
			fmt.Sprintf("%d", m.T0Seq),
			fmt.Sprintf("%.3f", m.T0TsMs),
			fmt.Sprintf("%d", m.HitSeq),
			fmt.Sprintf("%.3f", m.HitTsMs),
			fmt.Sprintf("%.3f", m.OffsetMs),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("correlate: write row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}
