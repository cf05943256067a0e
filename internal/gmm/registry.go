package gmm

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrUnknownModel is returned when a plain model name is not present in the
// registry catalog.
var ErrUnknownModel = errors.New("model not supported")

// tableRefRegexp matches the parametrized table-backed model identifier,
// e.g. `TableRef(path="models/nga_east.tbl")`.
var tableRefRegexp = regexp.MustCompile(`^TableRef\(([^)]+?)\)$`)

// Factory constructs a catalog model instance.
type Factory func() (Model, error)

// Spec identifies one requested model: either a pre-built instance, or a
// name that is a plain catalog entry or a TableRef(path=...) reference.
type Spec struct {
	Name     string
	Instance Model
}

// ByName builds a Spec from a model identifier string.
func ByName(name string) Spec {
	return Spec{Name: name}
}

// FromInstance builds a Spec wrapping an already-constructed model.
func FromInstance(m Model) Spec {
	return Spec{Instance: m}
}

// Registry is an explicit, constructed-once catalog of model factories.
// There is no ambient global registry; callers own their Registry and pass
// it into analysis setup.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register binds a catalog name to a model factory, replacing any previous
// binding for the name.
func (r *Registry) Register(name string, factory Factory) {
	r.factories[name] = factory
}

// Resolve turns an ordered collection of model specs into an
// order-preserving ModelSet. It fails if any plain name is not in the
// catalog, before any computation starts.
func (r *Registry) Resolve(specs []Spec) (*ModelSet, error) {
	set := &ModelSet{models: make(map[string]Model, len(specs))}
	for _, spec := range specs {
		model, err := r.resolveOne(spec)
		if err != nil {
			return nil, err
		}
		name := model.Name()
		if _, dup := set.models[name]; dup {
			return nil, fmt.Errorf("duplicate model %s in requested list", name)
		}
		set.names = append(set.names, name)
		set.models[name] = model
	}
	return set, nil
}

func (r *Registry) resolveOne(spec Spec) (Model, error) {
	if spec.Instance != nil {
		return spec.Instance, nil
	}
	if m := tableRefRegexp.FindStringSubmatch(spec.Name); m != nil {
		path, err := parseTableRefPath(m[1])
		if err != nil {
			return nil, fmt.Errorf("invalid table reference %q: %w", spec.Name, err)
		}
		model, err := LoadTableModel(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load table model from %s: %w", path, err)
		}
		return model, nil
	}
	factory, ok := r.factories[spec.Name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", spec.Name, ErrUnknownModel)
	}
	model, err := factory()
	if err != nil {
		return nil, fmt.Errorf("failed to construct model %s: %w", spec.Name, err)
	}
	return model, nil
}

// parseTableRefPath extracts the file path from the `path=<quoted-path>`
// argument of a TableRef identifier.
func parseTableRefPath(arg string) (string, error) {
	key, value, found := strings.Cut(arg, "=")
	if !found || strings.TrimSpace(key) != "path" {
		return "", fmt.Errorf("expected path=<quoted-path>, got %q", arg)
	}
	value = strings.TrimSpace(value)
	if len(value) < 2 || (value[0] != '"' && value[0] != '\'') || value[len(value)-1] != value[0] {
		return "", fmt.Errorf("path must be quoted, got %q", value)
	}
	return value[1 : len(value)-1], nil
}
