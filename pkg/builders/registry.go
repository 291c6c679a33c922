package builders

import (
	"context"
	"fmt"
	"sort"
)

// Constructor builds a Builder from resource parameters.
type Constructor func(params map[string]any, opts Options) (Builder, error)

// StatusFunc describes the availability of a variant's external dependencies.
type StatusFunc func(ctx context.Context, opts Options) string

// Variant is one registered builder type.
type Variant struct {
	Tag    string
	New    Constructor
	Status StatusFunc
}

// Registry maps resource type tags to builder variants.
// It is built once and never extended afterwards.
type Registry struct {
	variants map[string]Variant
	opts     Options
	err      error
}

// NewRegistry creates a registry from variants. A malformed table (empty
// tag, duplicate tag, missing constructor) is reported by Validate.
func NewRegistry(opts Options, variants ...Variant) *Registry {
	r := &Registry{
		variants: make(map[string]Variant, len(variants)),
		opts:     opts.withDefaults(),
	}
	for _, v := range variants {
		switch {
		case v.Tag == "":
			r.err = fmt.Errorf("builder registry: variant with empty tag")
		case v.New == nil:
			r.err = fmt.Errorf("builder registry: variant %q has no constructor", v.Tag)
		}
		if _, dup := r.variants[v.Tag]; dup {
			r.err = fmt.Errorf("builder registry: duplicate tag %q", v.Tag)
		}
		r.variants[v.Tag] = v
	}
	return r
}

// Default returns the registry with every built-in variant.
func Default(opts Options) *Registry {
	return NewRegistry(opts,
		SingularityHubVariant(),
		LocalVariant(),
		WasmVariant(),
		SFTPVariant(),
	)
}

// Validate reports whether the registry table is well formed.
func (r *Registry) Validate() error {
	if r == nil {
		return fmt.Errorf("builder registry is nil")
	}
	return r.err
}

// Options returns the registry's effective options.
func (r *Registry) Options() Options {
	return r.opts
}

// Tags returns the registered tags in sorted order.
func (r *Registry) Tags() []string {
	tags := make([]string, 0, len(r.variants))
	for tag := range r.variants {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Has reports whether tag is registered.
func (r *Registry) Has(tag string) bool {
	_, ok := r.variants[tag]
	return ok
}

// New constructs a builder for tag.
func (r *Registry) New(tag string, params map[string]any) (Builder, error) {
	v, ok := r.variants[tag]
	if !ok {
		return nil, &UnknownBuilderError{Tag: tag}
	}
	return v.New(params, r.opts)
}

// Status describes the availability of tag's external dependencies.
func (r *Registry) Status(ctx context.Context, tag string) string {
	v, ok := r.variants[tag]
	if !ok {
		return fmt.Sprintf("unknown builder %q", tag)
	}
	if v.Status == nil {
		return "no status available"
	}
	return v.Status(ctx, r.opts)
}
