// File: internal/grammar/yaml.go
package grammar

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/restfuzz/internal/primitives"
	"github.com/xkilldash9x/restfuzz/internal/requests"
)

// File is the on-disk grammar format.
//
//	base_path: /api/v1
//	requests:
//	  - id: /package
//	    primitives:
//	      - static: "POST "
//	      - basepath: ""
//	      - fuzzable_string: {default: fuzzstring, quoted: true, examples: ["a"]}
//	      - dynamic: {source: "POST /package", path: metadata.ID}
//	      - token: authentication_token_tag
type File struct {
	BasePath *string      `yaml:"base_path,omitempty"`
	Requests []RequestDef `yaml:"requests"`
}

type RequestDef struct {
	ID         string         `yaml:"id"`
	Primitives []PrimitiveDef `yaml:"primitives"`
}

// PrimitiveDef sets exactly one field.
type PrimitiveDef struct {
	Static         *string            `yaml:"static,omitempty"`
	BasePath       *string            `yaml:"basepath,omitempty"`
	FuzzableString *FuzzableStringDef `yaml:"fuzzable_string,omitempty"`
	FuzzableBool   *bool              `yaml:"fuzzable_bool,omitempty"`
	FuzzableObject *string            `yaml:"fuzzable_object,omitempty"`
	Dynamic        *DynamicDef        `yaml:"dynamic,omitempty"`
	Token          *string            `yaml:"token,omitempty"`
}

type FuzzableStringDef struct {
	Default  string   `yaml:"default"`
	Quoted   bool     `yaml:"quoted,omitempty"`
	Examples []string `yaml:"examples,omitempty"`
}

// DynamicDef references a value produced by another request. Source is the
// producer's key, e.g. "POST /package", or a bare request id such as
// "/package" when exactly one method serves that path.
type DynamicDef struct {
	Source string `yaml:"source"`
	Path   string `yaml:"path"`
}

// LoadFile reads a grammar from a YAML file.
func LoadFile(path string) (*requests.Collection, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open grammar file: %w", err)
	}
	defer f.Close()
	c, err := LoadYAML(f)
	if err != nil {
		return nil, fmt.Errorf("grammar file %s: %w", path, err)
	}
	return c, nil
}

// LoadYAML decodes a grammar and builds its collection. Unknown fields are rejected.
func LoadYAML(r io.Reader) (*requests.Collection, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("grammar is empty")
		}
		return nil, fmt.Errorf("failed to decode grammar: %w", err)
	}
	return f.Build()
}

// Build turns the definitions into a collection.
func (f *File) Build() (*requests.Collection, error) {
	c := requests.NewCollection()
	if f.BasePath != nil {
		c.SetBasePath(*f.BasePath)
	}
	keys := f.keysByID()
	for i, def := range f.Requests {
		prims := make([]primitives.Primitive, 0, len(def.Primitives))
		for j, pd := range def.Primitives {
			p, err := pd.build(keys)
			if err != nil {
				return nil, fmt.Errorf("request %d (%s) primitive %d: %w", i, def.ID, j, err)
			}
			prims = append(prims, p)
		}
		req, err := requests.New(def.ID, prims...)
		if err != nil {
			return nil, err
		}
		if err := c.Add(req); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// keysByID maps each request id to the keys registered under it. Requests that
// fail to build are left out; Build reports them.
func (f *File) keysByID() map[string][]requests.Key {
	keys := make(map[string][]requests.Key)
	for _, def := range f.Requests {
		prims := make([]primitives.Primitive, 0, len(def.Primitives))
		for _, pd := range def.Primitives {
			p, err := pd.build(nil)
			if err != nil {
				break
			}
			prims = append(prims, p)
		}
		if len(prims) != len(def.Primitives) {
			continue
		}
		if req, err := requests.New(def.ID, prims...); err == nil {
			keys[def.ID] = append(keys[def.ID], req.Key())
		}
	}
	return keys
}

// resolveSource qualifies a bare request id with its only method. Keys and
// unknown ids pass through unchanged.
func resolveSource(source string, keys map[string][]requests.Key) (string, error) {
	if keys == nil || strings.Contains(source, " ") {
		return source, nil
	}
	switch candidates := keys[source]; len(candidates) {
	case 0:
		return source, nil
	case 1:
		return string(candidates[0]), nil
	default:
		names := make([]string, len(candidates))
		for i, k := range candidates {
			names[i] = string(k)
		}
		return "", fmt.Errorf("dynamic source %q is ambiguous, use one of %s", source, strings.Join(names, ", "))
	}
}

func (pd PrimitiveDef) build(keys map[string][]requests.Key) (primitives.Primitive, error) {
	var (
		out primitives.Primitive
		set int
	)
	if pd.Static != nil {
		out, set = primitives.StaticString(*pd.Static), set+1
	}
	if pd.BasePath != nil {
		out, set = primitives.BasePath(*pd.BasePath), set+1
	}
	if fs := pd.FuzzableString; fs != nil {
		out, set = primitives.FuzzableString(fs.Default, fs.Quoted, fs.Examples...), set+1
	}
	if pd.FuzzableBool != nil {
		out, set = primitives.FuzzableBool(*pd.FuzzableBool), set+1
	}
	if pd.FuzzableObject != nil {
		out, set = primitives.FuzzableObject(*pd.FuzzableObject), set+1
	}
	if d := pd.Dynamic; d != nil {
		if d.Source == "" || d.Path == "" {
			return nil, errors.New("dynamic reference needs both source and path")
		}
		source, err := resolveSource(d.Source, keys)
		if err != nil {
			return nil, err
		}
		out, set = primitives.DynamicReference(source, d.Path), set+1
	}
	if pd.Token != nil {
		if *pd.Token == "" {
			return nil, errors.New("token tag cannot be empty")
		}
		out, set = primitives.RefreshableAuthToken(*pd.Token), set+1
	}
	if set != 1 {
		return nil, fmt.Errorf("exactly one primitive kind must be set, got %d", set)
	}
	return out, nil
}

// Export converts a collection back to its file form.
func Export(c *requests.Collection) (*File, error) {
	f := &File{}
	if bp, ok := c.BasePath(); ok {
		f.BasePath = &bp
	}
	for _, r := range c.All() {
		def := RequestDef{ID: r.ID(), Primitives: make([]PrimitiveDef, 0, r.Len())}
		for i := 0; i < r.Len(); i++ {
			pd, err := exportPrimitive(r.Primitive(i))
			if err != nil {
				return nil, fmt.Errorf("request %s primitive %d: %w", r.Key(), i, err)
			}
			def.Primitives = append(def.Primitives, pd)
		}
		f.Requests = append(f.Requests, def)
	}
	return f, nil
}

func exportPrimitive(p primitives.Primitive) (PrimitiveDef, error) {
	switch p.Kind() {
	case primitives.KindStatic:
		text, _ := primitives.TextOf(p)
		return PrimitiveDef{Static: &text}, nil
	case primitives.KindBasePath:
		v, _ := primitives.DefaultText(p)
		return PrimitiveDef{BasePath: &v}, nil
	case primitives.KindFuzzableString:
		fs, ok := p.(primitives.FuzzableStringPrimitive)
		if !ok {
			return PrimitiveDef{}, fmt.Errorf("unexpected fuzzable string type %T", p)
		}
		return PrimitiveDef{FuzzableString: &FuzzableStringDef{
			Default: fs.Default(), Quoted: fs.Quoted(), Examples: fs.Examples(),
		}}, nil
	case primitives.KindFuzzableBool:
		v, _ := primitives.DefaultText(p)
		b := v == "true"
		return PrimitiveDef{FuzzableBool: &b}, nil
	case primitives.KindFuzzableObject:
		v, _ := primitives.DefaultText(p)
		return PrimitiveDef{FuzzableObject: &v}, nil
	case primitives.KindDeferred:
		d := p.(primitives.Deferred)
		if d.Source() == primitives.SourceToken {
			tag := d.Tag()
			return PrimitiveDef{Token: &tag}, nil
		}
		return PrimitiveDef{Dynamic: &DynamicDef{Source: d.Producer(), Path: d.Path()}}, nil
	}
	return PrimitiveDef{}, fmt.Errorf("unsupported primitive %s", p)
}

// WriteYAML encodes c to w.
func WriteYAML(w io.Writer, c *requests.Collection) error {
	f, err := Export(c)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(f); err != nil {
		return fmt.Errorf("failed to encode grammar: %w", err)
	}
	return enc.Close()
}
