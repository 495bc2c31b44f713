package vars

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/streamtpl/streamtpl/internal/ageutil"
)

// Load reads a variables file. A path ending in .age is decrypted in
// memory with key before parsing; the plaintext never touches disk.
func Load(path string, key *ageutil.Key) (Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read variables file: %w", err)
	}

	if ageutil.IsEncrypted(path) {
		if key == nil {
			return nil, fmt.Errorf("variables file %q is encrypted and no age key is configured", path)
		}
		data, err = key.Decrypt(data)
		if err != nil {
			return nil, fmt.Errorf("decrypt variables file %q: %w", path, err)
		}
	}

	var m Mapping
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse variables file %q: %w", path, err)
	}
	if m == nil {
		m = Mapping{}
	}
	return m, nil
}

// LoadAll loads several variables files and merges them in order, later
// files winning, then applies name=value overrides on top.
func LoadAll(paths []string, overrides []string, key *ageutil.Key) (Mapping, error) {
	merged := Mapping{}
	for _, path := range paths {
		m, err := Load(path, key)
		if err != nil {
			return nil, err
		}
		merged = Merge(merged, m)
	}
	for _, arg := range overrides {
		if err := merged.ApplyOverride(arg); err != nil {
			return nil, err
		}
	}
	return merged, nil
}
