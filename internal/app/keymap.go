package app

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadKeymap builds the device id to key number table. The file may be
// YAML or JSON; entries from inline (a JSON object) win over the file.
func LoadKeymap(inline, file string) (map[string]int, error) {
	keymap := make(map[string]int)

	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read keymap file: %w", err)
		}
		var fromFile map[string]int
		if err := yaml.Unmarshal(data, &fromFile); err != nil {
			return nil, fmt.Errorf("parse keymap file %s: %w", file, err)
		}
		for device, key := range fromFile {
			keymap[strings.TrimSpace(device)] = key
		}
	}

	if strings.TrimSpace(inline) != "" {
		var fromFlag map[string]int
		if err := json.Unmarshal([]byte(inline), &fromFlag); err != nil {
			return nil, fmt.Errorf("parse keymap: %w", err)
		}
		for device, key := range fromFlag {
			keymap[strings.TrimSpace(device)] = key
		}
	}

	return keymap, nil
}
