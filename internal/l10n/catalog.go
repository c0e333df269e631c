package l10n

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const fallbackLocale = "en"

// Catalog holds translated message templates keyed by locale and message key.
// Templates use {name} placeholders substituted by Format.
type Catalog struct {
	messages map[string]map[string]string
}

// Load reads every <locale>/common.json under dir into a catalog.
func Load(dir string) (*Catalog, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read locales dir: %w", err)
	}

	c := &Catalog{messages: make(map[string]map[string]string)}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		locale := entry.Name()

		raw, err := os.ReadFile(filepath.Join(dir, locale, "common.json"))
		if err != nil {
			return nil, fmt.Errorf("failed to read locale %s: %w", locale, err)
		}

		var msgs map[string]string
		if err := json.Unmarshal(raw, &msgs); err != nil {
			return nil, fmt.Errorf("failed to parse locale %s: %w", locale, err)
		}

		c.messages[locale] = msgs
	}

	if _, ok := c.messages[fallbackLocale]; !ok {
		return nil, fmt.Errorf("fallback locale %q is missing", fallbackLocale)
	}

	return c, nil
}

// NewCatalog builds a catalog directly from in-memory messages, for tests.
func NewCatalog(messages map[string]map[string]string) *Catalog {
	return &Catalog{messages: messages}
}

// Format resolves key in the given locale, falling back to English and
// finally to the key itself, then substitutes {placeholder} variables.
func (c *Catalog) Format(locale, key string, vars map[string]string) string {
	tmpl, ok := c.lookup(locale, key)
	if !ok {
		return key
	}

	if len(vars) == 0 {
		return tmpl
	}

	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

// HasLocale reports whether the catalog carries the given locale.
func (c *Catalog) HasLocale(locale string) bool {
	_, ok := c.messages[locale]
	return ok
}

func (c *Catalog) lookup(locale, key string) (string, bool) {
	if msgs, ok := c.messages[locale]; ok {
		if tmpl, ok := msgs[key]; ok {
			return tmpl, true
		}
	}
	if locale != fallbackLocale {
		if tmpl, ok := c.messages[fallbackLocale][key]; ok {
			return tmpl, true
		}
	}
	return "", false
}
