package pathbuilder

import (
	"testing"

	"github.com/bleepstore/filestorage/internal/config"
)

func TestFromConfigTemplate(t *testing.T) {
	b, err := FromConfig(config.PathConfig{Template: "{model}/{filename}", Levels: 2})
	if err != nil {
		t.Fatalf("FromConfig failed: %v", err)
	}
	f := newTestFile(t).BelongsToModel("User", "1")
	if got := b.Path(f); got != "User/photo.jpg" {
		t.Errorf("Path = %q, want User/photo.jpg", got)
	}
}

func TestFromConfigRules(t *testing.T) {
	b, err := FromConfig(config.PathConfig{
		Template: "{model}/{filename}",
		Rules: []config.PathRule{
			{Condition: `model == "User"`, Template: "users/{modelId}/{filename}", VariantTemplate: "users/{modelId}/{variant}/{filename}"},
			{Condition: `mimeType startsWith "image/"`, Template: "images/{filename}"},
		},
	})
	if err != nil {
		t.Fatalf("FromConfig failed: %v", err)
	}

	tests := []struct {
		model string
		want  string
	}{
		{"User", "users/7/photo.jpg"},
		{"Post", "images/photo.jpg"},
	}
	for _, tt := range tests {
		f := newTestFile(t).BelongsToModel(tt.model, "7")
		if got := b.Path(f); got != tt.want {
			t.Errorf("Path(model=%s) = %q, want %q", tt.model, got, tt.want)
		}
	}

	f := newTestFile(t).BelongsToModel("User", "7")
	if got := VariantPathOf(b, f, "thumb"); got != "users/7/thumb/photo.jpg" {
		t.Errorf("VariantPathOf = %q, want users/7/thumb/photo.jpg", got)
	}
}

func TestFromConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.PathConfig
	}{
		{"bad template", config.PathConfig{Template: "{nope}"}},
		{"bad levels", config.PathConfig{Levels: 9}},
		{"bad condition", config.PathConfig{Rules: []config.PathRule{{Condition: "model ==", Template: "x"}}}},
		{"bad rule template", config.PathConfig{Rules: []config.PathRule{{Condition: "true", Template: "{nope}"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := FromConfig(tt.cfg); err == nil {
				t.Error("FromConfig should fail")
			}
		})
	}
}
