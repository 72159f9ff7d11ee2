package pathbuilder

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/bleepstore/filestorage/internal/file"
)

// Condition decides whether a builder applies to a file.
type Condition func(f *file.File) bool

type rule struct {
	cond    Condition
	builder Builder
}

// Conditional picks the first builder whose condition matches the file and
// falls back to a default builder otherwise.
type Conditional struct {
	rules    []rule
	fallback Builder
}

// NewConditional returns a Conditional using fallback when no condition
// matches.
func NewConditional(fallback Builder) *Conditional {
	return &Conditional{fallback: fallback}
}

// Add appends a (condition, builder) pair. Pairs are evaluated in the order
// they were added. Add is not safe for use concurrently with Path.
func (c *Conditional) Add(cond Condition, b Builder) *Conditional {
	c.rules = append(c.rules, rule{cond: cond, builder: b})
	return c
}

func (c *Conditional) pick(f *file.File) Builder {
	for _, r := range c.rules {
		if r.cond(f) {
			return r.builder
		}
	}
	return c.fallback
}

// Path returns the path of the first matching builder.
func (c *Conditional) Path(f *file.File) string {
	return c.pick(f).Path(f)
}

// VariantPath returns the variant path of the first matching builder.
func (c *Conditional) VariantPath(f *file.File, variant string) string {
	return VariantPathOf(c.pick(f), f, variant)
}

// Expr compiles an expr-lang boolean expression into a Condition. The
// expression sees model, modelId, collection, storage, mimeType, extension,
// filename, filesize and metadata. Evaluation errors count as no match.
//
//	model == "User" && collection == "avatars"
//	filesize > 10 * 1024 * 1024
func Expr(source string) (Condition, error) {
	prog, err := expr.Compile(source, expr.Env(exprEnv(nil)), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile path condition %q: %w", source, err)
	}
	return func(f *file.File) bool {
		return runCondition(prog, f)
	}, nil
}

func runCondition(prog *vm.Program, f *file.File) bool {
	result, err := expr.Run(prog, exprEnv(f))
	if err != nil {
		return false
	}
	matched, ok := result.(bool)
	return ok && matched
}

func exprEnv(f *file.File) map[string]any {
	if f == nil {
		return map[string]any{
			"model":      "",
			"modelId":    "",
			"collection": "",
			"storage":    "",
			"mimeType":   "",
			"extension":  "",
			"filename":   "",
			"filesize":   int64(0),
			"metadata":   map[string]any{},
		}
	}
	ext, _ := f.Extension()
	return map[string]any{
		"model":      f.Model(),
		"modelId":    f.ModelID(),
		"collection": f.Collection(),
		"storage":    f.Storage(),
		"mimeType":   f.MimeType(),
		"extension":  ext,
		"filename":   f.Filename(),
		"filesize":   f.Filesize(),
		"metadata":   f.Metadata(),
	}
}
