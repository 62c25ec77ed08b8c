package patient

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/angioreview/pkg/types"
)

// FixtureFile is the top-level structure of a patient fixture YAML file.
//
// Example:
//
//	patients:
//	  - id: "P-1001"
//	    name: "Ravi Kumar"
//	    age: 58
//	    sex: M
//	    status: Needs Review
//	    findings:
//	      - id: "f1"
//	        artery_name: "Proximal LAD"
//	        blockage_percentage: 80
//	        confidence: 94
//	        image_url: "images/lad.png"
//	        heatmap_url: "images/lad-heatmap.png"
type FixtureFile struct {
	Patients []types.Patient `yaml:"patients"`
}

// LoadFixtureFile reads and parses a fixture file from disk.
func LoadFixtureFile(path string) (*FixtureFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("patient: open fixture file %q: %w", path, err)
	}
	defer f.Close()

	ff, err := LoadFixturesFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("patient: parse fixture file %q: %w", path, err)
	}
	return ff, nil
}

// LoadFixturesFromReader parses fixture YAML from r.
func LoadFixturesFromReader(r io.Reader) (*FixtureFile, error) {
	var ff FixtureFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&ff); err != nil {
		return nil, fmt.Errorf("patient: decode fixture yaml: %w", err)
	}
	return &ff, nil
}

// Import registers every record of ff. The first failure aborts the import;
// the number of records added so far is returned alongside the error.
func Import(reg *Registry, ff *FixtureFile) (int, error) {
	if ff == nil {
		return 0, fmt.Errorf("patient: fixture file must not be nil")
	}
	for i, p := range ff.Patients {
		if _, err := reg.Add(p); err != nil {
			return i, fmt.Errorf("patient: import record %d: %w", i, err)
		}
	}
	return len(ff.Patients), nil
}
