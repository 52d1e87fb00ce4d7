// Package widget holds the options handed to the hosted chat widget:
// greeting, composer placeholder, starter prompts and per-scheme theme.
package widget

import (
	"fmt"
	"os"

	"github.com/ashureev/chatkit-shell/internal/domain"
	"gopkg.in/yaml.v3"
)

// StarterPrompt is a suggestion shown on the empty thread screen.
type StarterPrompt struct {
	Label  string `yaml:"label" json:"label"`
	Prompt string `yaml:"prompt" json:"prompt"`
	Icon   string `yaml:"icon" json:"icon,omitempty"`
}

// Grayscale tunes the neutral palette.
type Grayscale struct {
	Hue   int `yaml:"hue" json:"hue"`
	Tint  int `yaml:"tint" json:"tint"`
	Shade int `yaml:"shade" json:"shade"`
}

// Accent is the highlight color.
type Accent struct {
	Primary string `yaml:"primary" json:"primary"`
	Level   int    `yaml:"level" json:"level"`
}

// Color groups the palette for one scheme.
type Color struct {
	Grayscale Grayscale `yaml:"grayscale" json:"grayscale"`
	Accent    Accent    `yaml:"accent" json:"accent"`
}

// Theme is the widget theme for a resolved color scheme.
type Theme struct {
	ColorScheme domain.ColorScheme `yaml:"-" json:"colorScheme"`
	Color       Color              `yaml:"color" json:"color"`
	Radius      string             `yaml:"radius" json:"radius"`
}

// Options is the full widget configuration.
type Options struct {
	Greeting       string          `yaml:"greeting" json:"greeting"`
	Placeholder    string          `yaml:"placeholder" json:"placeholder"`
	StarterPrompts []StarterPrompt `yaml:"starter_prompts" json:"starterPrompts"`
	Light          Theme           `yaml:"light" json:"-"`
	Dark           Theme           `yaml:"dark" json:"-"`
}

// Defaults returns the built-in options.
func Defaults() Options {
	return Options{
		Greeting:    "How can I help you today?",
		Placeholder: "Ask anything...",
		StarterPrompts: []StarterPrompt{
			{Label: "What can you do?", Prompt: "What can you do?", Icon: "circle-question"},
		},
		Light: Theme{
			Color: Color{
				Grayscale: Grayscale{Hue: 220, Tint: 6, Shade: -4},
				Accent:    Accent{Primary: "#0f172a", Level: 1},
			},
			Radius: "round",
		},
		Dark: Theme{
			Color: Color{
				Grayscale: Grayscale{Hue: 220, Tint: 6, Shade: -1},
				Accent:    Accent{Primary: "#f1f5f9", Level: 1},
			},
			Radius: "round",
		},
	}
}

// Load reads an optional YAML override file on top of Defaults. An empty
// path returns the defaults unchanged.
func Load(path string) (Options, error) {
	opts := Defaults()
	if path == "" {
		return opts, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return opts, fmt.Errorf("read widget options: %w", err)
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, fmt.Errorf("parse widget options: %w", err)
	}
	if err := opts.Validate(); err != nil {
		return opts, fmt.Errorf("invalid widget options: %w", err)
	}
	return opts, nil
}

// Validate checks the fields the widget cannot render without.
func (o Options) Validate() error {
	for i, p := range o.StarterPrompts {
		if p.Label == "" || p.Prompt == "" {
			return fmt.Errorf("starter prompt %d needs label and prompt", i)
		}
	}
	for _, r := range []string{o.Light.Radius, o.Dark.Radius} {
		switch r {
		case "", "pill", "round", "soft", "sharp":
		default:
			return fmt.Errorf("unknown radius %q", r)
		}
	}
	return nil
}

// ThemeFor returns the theme for scheme.
func (o Options) ThemeFor(scheme domain.ColorScheme) Theme {
	t := o.Light
	if scheme == domain.SchemeDark {
		t = o.Dark
	}
	t.ColorScheme = scheme
	return t
}
