package lifecycle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/toolhub/offlinesync/internal/notify"
)

const (
	seedFileName      = "seed.json"
	schemaFileName    = "preferences-schema.json"
	templatesFileName = "notification-templates.json"
)

// LoadSeedDir assembles SeedData from a seed directory: seed.json for the
// asset/page/feature lists, preferences-schema.json and
// notification-templates.json for the read-only documents. Missing files
// are simply absent sections.
func LoadSeedDir(dir string) (SeedData, error) {
	var seed SeedData
	if dir == "" {
		return seed, nil
	}

	if data, err := os.ReadFile(filepath.Join(dir, seedFileName)); err == nil {
		if err := json.Unmarshal(data, &seed); err != nil {
			return SeedData{}, fmt.Errorf("parse %s: %w", seedFileName, err)
		}
	} else if !os.IsNotExist(err) {
		return SeedData{}, err
	}

	if data, err := os.ReadFile(filepath.Join(dir, schemaFileName)); err == nil {
		if !json.Valid(data) {
			return SeedData{}, fmt.Errorf("parse %s: not valid JSON", schemaFileName)
		}
		seed.PreferencesSchema = json.RawMessage(data)
	} else if !os.IsNotExist(err) {
		return SeedData{}, err
	}

	if data, err := os.ReadFile(filepath.Join(dir, templatesFileName)); err == nil {
		templates := map[string]notify.Template{}
		if err := json.Unmarshal(data, &templates); err != nil {
			return SeedData{}, fmt.Errorf("parse %s: %w", templatesFileName, err)
		}
		seed.NotificationTemplates = templates
	} else if !os.IsNotExist(err) {
		return SeedData{}, err
	}

	return seed, nil
}
