package worker

import (
	"fmt"
	"os"
	"path/filepath"
)

const manifestHeader = "samples\tpop\tcenter\trun\tcondition"

// manifestContent is the sample sheet the DESeq2 script reads, one row for the job
func manifestContent(jobID string) string {
	return fmt.Sprintf("%s\n%s\t1.1\tHPC\t%s\tstimulus", manifestHeader, jobID, jobID)
}

// writeManifest replaces the manifest atomically
func writeManifest(path, jobID string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".samples-*")
	if err != nil {
		return fmt.Errorf("failed to create manifest: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(manifestContent(jobID)); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace manifest %s: %w", path, err)
	}

	return nil
}
