package pathbuilder

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bleepstore/filestorage/internal/file"
	"github.com/bleepstore/filestorage/internal/uid"
)

const (
	// DefaultTemplate is used when no path template is configured.
	DefaultTemplate = "{model}/{collection}/{randomPath}/{strippedId}/{filename}"
	// DefaultVariantTemplate is used when no variant template is configured.
	DefaultVariantTemplate = "{model}/{collection}/{randomPath}/{strippedId}/{basename}.{variant}.{extension}"
	// DefaultLevels is the number of directory levels {randomPath} expands to.
	DefaultLevels = 3
)

var placeholderRe = regexp.MustCompile(`\{([A-Za-z]+)\}`)

var filePlaceholders = map[string]bool{
	"model":          true,
	"modelId":        true,
	"collection":     true,
	"uuid":           true,
	"strippedId":     true,
	"randomPath":     true,
	"filename":       true,
	"basename":       true,
	"extension":      true,
	"hashedFilename": true,
	"storage":        true,
	"year":           true,
	"month":          true,
	"day":            true,
}

// Template renders paths from a placeholder pattern such as
// "{model}/{randomPath}/{strippedId}/{filename}". Empty placeholders collapse,
// so a file without a collection does not produce an empty directory level.
type Template struct {
	pattern        string
	variantPattern string
	levels         int
	now            func() time.Time
}

// TemplateOption configures a Template.
type TemplateOption func(*Template)

// WithVariantTemplate sets the pattern used by VariantPath. It may use the
// extra {variant} placeholder.
func WithVariantTemplate(pattern string) TemplateOption {
	return func(t *Template) { t.variantPattern = pattern }
}

// WithLevels sets how many directory levels {randomPath} expands to.
func WithLevels(levels int) TemplateOption {
	return func(t *Template) { t.levels = levels }
}

// WithClock sets the time source for {year}, {month} and {day}.
func WithClock(now func() time.Time) TemplateOption {
	return func(t *Template) { t.now = now }
}

// NewTemplate parses pattern and returns a Template. An empty pattern selects
// DefaultTemplate. Unknown placeholders are rejected.
func NewTemplate(pattern string, opts ...TemplateOption) (*Template, error) {
	if pattern == "" {
		pattern = DefaultTemplate
	}
	t := &Template{
		pattern:        pattern,
		variantPattern: DefaultVariantTemplate,
		levels:         DefaultLevels,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.variantPattern == "" {
		t.variantPattern = DefaultVariantTemplate
	}
	if t.levels < 1 || t.levels > 5 {
		return nil, fmt.Errorf("path levels must be between 1 and 5, got %d", t.levels)
	}

	if err := validatePattern(t.pattern, false); err != nil {
		return nil, err
	}
	if err := validatePattern(t.variantPattern, true); err != nil {
		return nil, err
	}
	return t, nil
}

func validatePattern(pattern string, variant bool) error {
	for _, m := range placeholderRe.FindAllStringSubmatch(pattern, -1) {
		name := m[1]
		if filePlaceholders[name] || (variant && name == "variant") {
			continue
		}
		return fmt.Errorf("unknown placeholder {%s} in path template %q", name, pattern)
	}
	return nil
}

// Path renders the file template for f.
func (t *Template) Path(f *file.File) string {
	return t.render(t.pattern, f, "")
}

// VariantPath renders the variant template for f.
func (t *Template) VariantPath(f *file.File, variant string) string {
	return t.render(t.variantPattern, f, variant)
}

func (t *Template) render(pattern string, f *file.File, variant string) string {
	values := t.values(f)
	values["variant"] = variant

	var b strings.Builder
	last := 0
	for _, loc := range placeholderRe.FindAllStringSubmatchIndex(pattern, -1) {
		literal := pattern[last:loc[0]]
		value := values[pattern[loc[2]:loc[3]]]
		if value == "" {
			// the separator dot goes with an empty placeholder
			literal = strings.TrimSuffix(literal, ".")
		}
		b.WriteString(literal)
		b.WriteString(value)
		last = loc[1]
	}
	b.WriteString(pattern[last:])
	return collapse(b.String())
}

func (t *Template) values(f *file.File) map[string]string {
	ext, _ := f.Extension()
	basename := strings.TrimSuffix(f.Filename(), "."+ext)
	if ext == "" {
		basename = f.Filename()
	}
	sum := md5.Sum([]byte(f.Filename()))
	now := t.now().UTC()

	return map[string]string{
		"model":          f.Model(),
		"modelId":        f.ModelID(),
		"collection":     f.Collection(),
		"uuid":           f.UUID(),
		"strippedId":     uid.Strip(f.UUID()),
		"randomPath":     RandomPath(f.UUID(), t.levels),
		"filename":       f.Filename(),
		"basename":       basename,
		"extension":      ext,
		"hashedFilename": hex.EncodeToString(sum[:]),
		"storage":        f.Storage(),
		"year":           strconv.Itoa(now.Year()),
		"month":          fmt.Sprintf("%02d", int(now.Month())),
		"day":            fmt.Sprintf("%02d", now.Day()),
	}
}

// RandomPath spreads files over directories derived from the crc32 checksum
// of s: the decimal checksum is read two digits at a time from the end, one
// pair per level.
func RandomPath(s string, levels int) string {
	digits := fmt.Sprintf("%0*d", 2*levels, crc32.ChecksumIEEE([]byte(s)))
	parts := make([]string, 0, levels)
	for i := 0; i < levels; i++ {
		end := len(digits) - 2*i
		parts = append(parts, digits[end-2:end])
	}
	return strings.Join(parts, "/")
}

// collapse drops empty path segments.
func collapse(p string) string {
	segments := strings.Split(p, "/")
	kept := segments[:0]
	for _, s := range segments {
		if s == "" {
			continue
		}
		kept = append(kept, s)
	}
	return strings.Join(kept, "/")
}
