package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

const templateHeader = `# linkctl configuration. Every key is optional.
# device.number = 0 picks the first free number in [min_number, max_number].
# admin.addr = "" disables the HTTP query surface.

`

// Template renders cfg as a TOML document that Load accepts.
func Template(cfg Config) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(templateHeader)
	if err := toml.NewEncoder(&buf).Encode(toFile(cfg)); err != nil {
		return "", fmt.Errorf("config render failed: %w", err)
	}
	return buf.String(), nil
}

// DefaultTemplate is Template(Default()).
func DefaultTemplate() (string, error) {
	return Template(Default())
}

func WriteTemplate(path string, overwrite bool) error {
	template, err := DefaultTemplate()
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}
