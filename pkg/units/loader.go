package units

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/verdant-os/verdantd/pkg/errors"
	"github.com/verdant-os/verdantd/pkg/logging"
)

// UnitFileExtension is the suffix unit definition files must carry
const UnitFileExtension = ".unit"

// LoadDir reads every unit file in dir and returns the parsed definitions
// in file-name order (which fixes declaration order for priority ties).
//
// A file that fails to parse or validate disables only that unit: the
// failure is logged and collected, and loading continues. Only a missing
// or unreadable directory is a hard error.
func LoadDir(dir string, logger logging.Logger) ([]Definition, *errors.ErrorCollection, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, errors.NewIOError("failed to read units directory", err).WithContext("dir", dir)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), UnitFileExtension) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	var defs []Definition
	failures := errors.NewErrorCollection()

	for _, name := range names {
		path := filepath.Join(dir, name)
		def, err := LoadFile(path)
		if err != nil {
			logger.Errorf("Skipping unit file %s: %v", path, err)
			failures.Add(err)
			continue
		}
		defs = append(defs, *def)
	}

	logger.Infof("Loaded %d unit definition(s) from %s", len(defs), dir)
	return defs, failures, nil
}

// LoadFile parses and validates a single unit file
func LoadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewIOError("failed to read unit file", err).WithContext("path", path)
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, errors.NewValidationError("failed to parse unit file", err).WithContext("path", path)
	}

	def.ApplyDefaults()

	if err := def.Validate(); err != nil {
		return nil, errors.NewValidationError("invalid unit definition", err).WithContext("path", path)
	}

	def.SourcePath = path
	return &def, nil
}
