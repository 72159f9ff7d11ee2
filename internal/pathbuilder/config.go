package pathbuilder

import (
	"fmt"

	"github.com/bleepstore/filestorage/internal/config"
)

// FromConfig builds the path builder described by cfg. Without rules it is a
// single Template; with rules it is a Conditional whose fallback is the
// configured template.
func FromConfig(cfg config.PathConfig) (Builder, error) {
	levels := cfg.Levels
	if levels == 0 {
		levels = DefaultLevels
	}
	fallback, err := NewTemplate(cfg.Template, WithVariantTemplate(cfg.VariantTemplate), WithLevels(levels))
	if err != nil {
		return nil, err
	}
	if len(cfg.Rules) == 0 {
		return fallback, nil
	}

	c := NewConditional(fallback)
	for i, rule := range cfg.Rules {
		cond, err := Expr(rule.Condition)
		if err != nil {
			return nil, fmt.Errorf("path rule %d: %w", i, err)
		}
		tmpl, err := NewTemplate(rule.Template, WithVariantTemplate(rule.VariantTemplate), WithLevels(levels))
		if err != nil {
			return nil, fmt.Errorf("path rule %d: %w", i, err)
		}
		c.Add(cond, tmpl)
	}
	return c, nil
}
