// Package menu loads the restaurant profile the auto-responder speaks from.
package menu

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Menu describes the restaurant: items, prices, and opening hours.
// Rendered into the responder's system instruction so replies can quote
// real menu data instead of inventing it.
type Menu struct {
	Restaurant string  `yaml:"restaurant"`
	Greeting   string  `yaml:"greeting,omitempty"`
	Hours      string  `yaml:"hours,omitempty"`
	Delivery   string  `yaml:"delivery,omitempty"`
	Items      []Item  `yaml:"items"`
	Notes      []string `yaml:"notes,omitempty"`
}

// Item is a single menu entry.
type Item struct {
	Name        string  `yaml:"name"`
	Price       float64 `yaml:"price"`
	Description string  `yaml:"description,omitempty"`
	Available   *bool   `yaml:"available,omitempty"` // nil means available
}

// Load reads a YAML menu file. A missing path is not an error: the
// responder then runs on the base system prompt alone.
func Load(path string, logger *slog.Logger) (*Menu, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Debug("menu file does not exist, skipping", "path", path)
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read menu file: %w", err)
	}

	var m Menu
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse menu file %s: %w", path, err)
	}

	logger.Info("menu loaded", "restaurant", m.Restaurant, "items", len(m.Items))
	return &m, nil
}

// SystemPrompt appends the menu to the base instruction. With a nil menu
// the base instruction is returned unchanged.
func SystemPrompt(base string, m *Menu) string {
	if m == nil {
		return base
	}

	var sb strings.Builder
	sb.WriteString(base)

	if m.Restaurant != "" {
		fmt.Fprintf(&sb, "\n\nRestaurante: %s", m.Restaurant)
	}
	if m.Hours != "" {
		fmt.Fprintf(&sb, "\nHorário de funcionamento: %s", m.Hours)
	}
	if m.Delivery != "" {
		fmt.Fprintf(&sb, "\nEntrega: %s", m.Delivery)
	}

	if len(m.Items) > 0 {
		sb.WriteString("\n\nCardápio:")
		for _, it := range m.Items {
			if it.Available != nil && !*it.Available {
				continue
			}
			fmt.Fprintf(&sb, "\n- %s: R$ %.2f", it.Name, it.Price)
			if it.Description != "" {
				fmt.Fprintf(&sb, " (%s)", it.Description)
			}
		}
	}

	for _, n := range m.Notes {
		fmt.Fprintf(&sb, "\n%s", n)
	}

	return sb.String()
}
