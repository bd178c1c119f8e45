package pipeline

import (
	"os"
	"path/filepath"
	"regexp"

	"github.com/ratecurve/cashpipe/internal/logging"
)

// inputFilePattern matches scraper output names: <platform>-normalized-<timestamp>.json
var inputFilePattern = regexp.MustCompile(`^(.+)-normalized-(\d+)\.json$`)

// CleanupInputFiles removes processed input files and their siblings. For
// each file named <platform>-normalized-<timestamp>.json, every sibling that
// shares the platform prefix and timestamp is removed too (raw dumps, logs).
// Problems are warnings, never failures.
func CleanupInputFiles(files []string, log *logging.Logger) {
	for _, path := range files {
		dir := filepath.Dir(path)
		base := filepath.Base(path)

		m := inputFilePattern.FindStringSubmatch(base)
		if m == nil {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				log.Warnf("cleanup: could not remove %s: %v", path, err)
			}
			continue
		}
		platform, timestamp := m[1], m[2]

		siblings, err := filepath.Glob(filepath.Join(dir, platform+"-*-"+timestamp+".*"))
		if err != nil {
			log.Warnf("cleanup: glob failed for %s: %v", path, err)
			siblings = []string{path}
		}
		if len(siblings) == 0 {
			siblings = []string{path}
		}
		for _, sibling := range siblings {
			if err := os.Remove(sibling); err != nil && !os.IsNotExist(err) {
				log.Warnf("cleanup: could not remove %s: %v", sibling, err)
			} else {
				log.Debugf("cleanup: removed %s", sibling)
			}
		}
	}
}
