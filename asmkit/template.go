// Package asmkit turns instruction templates into machine code and
// checks the result.
//
// A Template is NASM source containing text/template actions. Render
// substitutes hash constants, literal stack stores and loader structure
// offsets into it. An Assembler writes the rendered source to a
// temporary directory and hands it to a Toolchain (normally NASM).
// Verify disassembles the output and confirms the substituted values
// made it into the machine code.
package asmkit

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"gitlab.com/hashcall/hashcall/hashkit"
	"gitlab.com/hashcall/hashcall/resolve"
)

const (
	// MaxStackDisp is the largest displacement a literal byte may be
	// stored at. The templates address their frame using 8-bit
	// signed displacements.
	MaxStackDisp = 0x7f

	literalIndent = "\n    "
)

// Template is NASM source with substitution sites:
//
//	{{hash "site"}}                     hash constant of Params.Hashes["site"]
//	{{literal "site" offset capacity}}  stack stores of Params.Literals["site"]
//	{{value "site"}}                    Params.Values["site"]
//	{{hex .Layout.Field}}               a resolve.Layout offset
type Template struct {
	// Name identifies the template in error messages.
	Name string

	// Source is the template text.
	Source string
}

// Params are the values substituted into a Template.
type Params struct {
	// Hashes maps hash site names to targets.
	Hashes map[string]hashkit.Target

	// Literals maps literal site names to literals.
	Literals map[string]Literal

	// Values maps value site names to plain 32-bit constants,
	// such as call arguments.
	Values map[string]uint32

	// Layout defaults to resolve.X64 when zero.
	Layout resolve.Layout
}

// SiteKind is the kind of a substitution site.
type SiteKind int

const (
	HashSite SiteKind = iota
	LiteralSite
)

func (o SiteKind) String() string {
	switch o {
	case HashSite:
		return "hash"
	case LiteralSite:
		return "literal"
	default:
		return fmt.Sprintf("unknown (%d)", int(o))
	}
}

// Site records a value that was substituted into a template.
type Site struct {
	Kind SiteKind
	Name string

	// Target is set for hash sites.
	Target hashkit.Target

	// Literal, Offset and Capacity are set for literal sites. Offset
	// is the literal's displacement from rsp.
	Literal  Literal
	Offset   int
	Capacity int
}

func (o Site) String() string {
	switch o.Kind {
	case HashSite:
		return fmt.Sprintf("hash site %q (%s)", o.Name, o.Target)
	default:
		return fmt.Sprintf("literal site %q (%s at rsp+0x%x)", o.Name, o.Literal, o.Offset)
	}
}

// Rendered is a template after substitution.
type Rendered struct {
	Name   string
	Source string

	// Sites are in the order they were used.
	Sites []Site
}

// HashSites returns the hash sites in order of use.
func (o Rendered) HashSites() []Site {
	return o.sitesOfKind(HashSite)
}

// LiteralSites returns the literal sites in order of use.
func (o Rendered) LiteralSites() []Site {
	return o.sitesOfKind(LiteralSite)
}

func (o Rendered) sitesOfKind(kind SiteKind) []Site {
	var sites []Site

	for _, site := range o.Sites {
		if site.Kind == kind {
			sites = append(sites, site)
		}
	}

	return sites
}

type renderState struct {
	params Params
	used   map[string]struct{}
	sites  []Site
}

func (o *renderState) hash(name string) (string, error) {
	target, ok := o.params.Hashes[name]
	if !ok {
		return "", fmt.Errorf("unknown hash site %q", name)
	}

	if target.IsZero() {
		return "", fmt.Errorf("hash site %q has no target", name)
	}

	o.used["hash:"+name] = struct{}{}
	o.sites = append(o.sites, Site{
		Kind:   HashSite,
		Name:   name,
		Target: target,
	})

	return fmt.Sprintf("0x%08X", target.Hash()), nil
}

func (o *renderState) literal(name string, offset int, capacity int) (string, error) {
	lit, ok := o.params.Literals[name]
	if !ok {
		return "", fmt.Errorf("unknown literal site %q", name)
	}

	if lit.IsZero() {
		return "", fmt.Errorf("literal site %q has no literal", name)
	}

	if capacity <= 0 {
		return "", fmt.Errorf("literal site %q has invalid capacity %d", name, capacity)
	}

	if offset < 0 || offset+capacity-1 > MaxStackDisp {
		return "", fmt.Errorf("literal site %q slot rsp+0x%x..0x%x is outside 8-bit displacement range",
			name, offset, offset+capacity-1)
	}

	if lit.Len() > capacity {
		return "", fmt.Errorf("literal site %q: %s needs %d bytes - slot holds %d",
			name, lit, lit.Len(), capacity)
	}

	o.used["literal:"+name] = struct{}{}
	o.sites = append(o.sites, Site{
		Kind:     LiteralSite,
		Name:     name,
		Literal:  lit,
		Offset:   offset,
		Capacity: capacity,
	})

	lines := stackStores(lit.Bytes(), offset)
	lines[0] += fmt.Sprintf(" ; %s", lit)

	return strings.Join(lines, literalIndent), nil
}

func (o *renderState) value(name string) (string, error) {
	v, ok := o.params.Values[name]
	if !ok {
		return "", fmt.Errorf("unknown value site %q", name)
	}

	o.used["value:"+name] = struct{}{}

	return fmt.Sprintf("0x%X", v), nil
}

func hexOffset(v uint64) string {
	return fmt.Sprintf("0x%X", v)
}

// Render substitutes params into tmpl. Every site named by params must
// be used by the template and every site used must be in params.
func Render(tmpl Template, params Params) (Rendered, error) {
	if params.Layout == (resolve.Layout{}) {
		params.Layout = resolve.X64
	}

	state := &renderState{
		params: params,
		used:   make(map[string]struct{}),
	}

	t, err := template.New(tmpl.Name).
		Option("missingkey=error").
		Funcs(template.FuncMap{
			"hash":    state.hash,
			"literal": state.literal,
			"value":   state.value,
			"hex":     hexOffset,
		}).
		Parse(tmpl.Source)
	if err != nil {
		return Rendered{}, fmt.Errorf("failed to parse template %q - %w", tmpl.Name, err)
	}

	buf := bytes.NewBuffer(nil)

	err = t.Execute(buf, struct {
		Layout resolve.Layout
	}{
		Layout: params.Layout,
	})
	if err != nil {
		return Rendered{}, fmt.Errorf("failed to render template %q - %w", tmpl.Name, err)
	}

	var unused []string

	for name := range params.Hashes {
		if _, ok := state.used["hash:"+name]; !ok {
			unused = append(unused, "hash "+name)
		}
	}

	for name := range params.Literals {
		if _, ok := state.used["literal:"+name]; !ok {
			unused = append(unused, "literal "+name)
		}
	}

	for name := range params.Values {
		if _, ok := state.used["value:"+name]; !ok {
			unused = append(unused, "value "+name)
		}
	}

	if len(unused) > 0 {
		sort.Strings(unused)

		return Rendered{}, fmt.Errorf("template %q does not use site(s): %s",
			tmpl.Name, strings.Join(unused, ", "))
	}

	return Rendered{
		Name:   tmpl.Name,
		Source: buf.String(),
		Sites:  state.sites,
	}, nil
}
