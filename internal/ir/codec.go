package ir

import (
	"encoding/json"
	"fmt"
	"os"
)

// Encode serializes a module to indented JSON, the on-disk `.conc-ir` format.
func Encode(m *Module) ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// Decode parses a module from JSON and rejects an unsupported version.
func Decode(data []byte) (*Module, error) {
	var m Module
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode ir module: %w", err)
	}
	if m.Version != CurrentVersion {
		return nil, fmt.Errorf("unsupported ir version %d (want %d)", m.Version, CurrentVersion)
	}
	return &m, nil
}

// WriteFile encodes m and writes it to path.
func WriteFile(path string, m *Module) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ReadFile reads and decodes the module at path.
func ReadFile(path string) (*Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ir module: %w", err)
	}
	return Decode(data)
}
