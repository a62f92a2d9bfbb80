package main

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	envBatchluConfig  = "BATCHLU_CONFIG"
	envBatchluBackend = "BATCHLU_BACKEND"
	envBatchluOutDir  = "BATCHLU_REPORT_DIR"
)

// configPath returns $BATCHLU_CONFIG, or config.yaml under the user config
// directory. An empty result means no config file applies.
func configPath() string {
	if p := strings.TrimSpace(os.Getenv(envBatchluConfig)); p != "" {
		return filepath.Clean(p)
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "batchlu", "config.yaml")
}

// resolveReportOut returns where a JSON run report is written. An explicit
// path wins; a bare "-" or empty flag with no BATCHLU_REPORT_DIR means
// stdout, reported as "". Otherwise the report lands in the env directory
// as <id>.json. Parent directories are created.
func resolveReportOut(outFlag, id string) (string, error) {
	outFlag = strings.TrimSpace(outFlag)
	if outFlag == "-" {
		return "", nil
	}
	var outPath string
	if outFlag != "" {
		outPath = filepath.Clean(outFlag)
	} else {
		dir := strings.TrimSpace(os.Getenv(envBatchluOutDir))
		if dir == "" {
			return "", nil
		}
		outPath = filepath.Join(dir, id+".json")
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", err
	}
	return outPath, nil
}
