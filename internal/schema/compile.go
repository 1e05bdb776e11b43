package schema

import (
	"fmt"

	"cuelang.org/go/cue"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/facet/internal/entity"
	"github.com/roach88/facet/internal/expr"
	"github.com/roach88/facet/internal/value"
)

// CompileTypes parses a CUE value into entity types. The value is the
// document root, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`types: specimen: { properties: { ... } }`)
//	types, err := CompileTypes(v)
//
// Computed expressions are parsed here, so syntax errors and unknown
// functions surface at validation time instead of first evaluation.
func CompileTypes(v cue.Value) ([]EntityType, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	typesVal := v.LookupPath(cue.ParsePath("types"))
	if !typesVal.Exists() {
		return nil, &CompileError{
			Field:   "types",
			Message: "no entity types defined",
			Pos:     v.Pos(),
		}
	}

	iter, err := typesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var types []EntityType
	for iter.Next() {
		t, err := compileType(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	if len(types) == 0 {
		return nil, &CompileError{
			Field:   "types",
			Message: "no entity types defined",
			Pos:     typesVal.Pos(),
		}
	}
	return types, nil
}

// compileType parses one entity type struct.
func compileType(name string, v cue.Value) (EntityType, error) {
	t := EntityType{Name: name}

	propsVal := v.LookupPath(cue.ParsePath("properties"))
	if !propsVal.Exists() {
		return t, &CompileError{
			Field:   fieldPath(name, ""),
			Message: "properties are required",
			Pos:     v.Pos(),
		}
	}

	iter, err := propsVal.Fields()
	if err != nil {
		return t, formatCUEError(err)
	}

	for iter.Next() {
		decl, err := compileProperty(name, iter.Label(), iter.Value())
		if err != nil {
			return t, err
		}
		t.Properties = append(t.Properties, decl)
	}
	if len(t.Properties) == 0 {
		return t, &CompileError{
			Field:   fieldPath(name, "properties"),
			Message: "at least one property is required",
			Pos:     propsVal.Pos(),
		}
	}
	return t, nil
}

// compileProperty parses one property declaration.
func compileProperty(typeName, propName string, v cue.Value) (PropertyDecl, error) {
	decl := PropertyDecl{Name: propName}
	path := fieldPath(typeName, propName)

	srcVal := v.LookupPath(cue.ParsePath("source"))
	if !srcVal.Exists() {
		return decl, &CompileError{
			Field:   path,
			Message: "source is required",
			Pos:     v.Pos(),
		}
	}
	src, err := srcVal.String()
	if err != nil {
		return decl, formatCUEError(err)
	}
	switch entity.Source(src) {
	case entity.SourceLiteral, entity.SourceInherited, entity.SourceMeasured, entity.SourceComputed:
		decl.Source = entity.Source(src)
	default:
		return decl, &CompileError{
			Field:   path + ".source",
			Message: fmt.Sprintf("unknown property source %q", src),
			Pos:     srcVal.Pos(),
		}
	}

	if kindVal := v.LookupPath(cue.ParsePath("kind")); kindVal.Exists() {
		kind, err := kindVal.String()
		if err != nil {
			return decl, formatCUEError(err)
		}
		if !value.ValidKinds[value.Kind(kind)] {
			return decl, &CompileError{
				Field:   path + ".kind",
				Message: fmt.Sprintf("unknown value kind %q", kind),
				Pos:     kindVal.Pos(),
			}
		}
		decl.Kind = value.Kind(kind)
	}

	if unitVal := v.LookupPath(cue.ParsePath("unit")); unitVal.Exists() {
		unit, err := unitVal.String()
		if err != nil {
			return decl, formatCUEError(err)
		}
		decl.Unit = unit
	}

	switch decl.Source {
	case entity.SourceComputed:
		return compileComputed(decl, path, v)
	case entity.SourceInherited:
		return compileInherited(decl, path, v)
	case entity.SourceLiteral:
		return compileLiteral(decl, path, v)
	default:
		return decl, nil
	}
}

// compileComputed requires an expression and parses it eagerly.
func compileComputed(decl PropertyDecl, path string, v cue.Value) (PropertyDecl, error) {
	exprVal := v.LookupPath(cue.ParsePath("expression"))
	if !exprVal.Exists() {
		return decl, &CompileError{
			Field:   path,
			Message: "computed property requires an expression",
			Pos:     v.Pos(),
		}
	}
	src, err := exprVal.String()
	if err != nil {
		return decl, formatCUEError(err)
	}

	node, err := expr.Parse(src)
	if err != nil {
		return decl, &CompileError{
			Field:   path + ".expression",
			Message: err.Error(),
			Pos:     exprVal.Pos(),
		}
	}
	decl.Expression = src
	decl.Refs = expr.CollectRefs(node)
	return decl, nil
}

// compileInherited requires the source entity and property.
func compileInherited(decl PropertyDecl, path string, v cue.Value) (PropertyDecl, error) {
	fromVal := v.LookupPath(cue.ParsePath("from"))
	propVal := v.LookupPath(cue.ParsePath("property"))
	if !fromVal.Exists() || !propVal.Exists() {
		return decl, &CompileError{
			Field:   path,
			Message: "inherited property requires from and property",
			Pos:     v.Pos(),
		}
	}
	var err error
	if decl.SourceEntity, err = fromVal.String(); err != nil {
		return decl, formatCUEError(err)
	}
	if decl.SourceProperty, err = propVal.String(); err != nil {
		return decl, formatCUEError(err)
	}
	return decl, nil
}

// compileLiteral picks up an optional default value.
func compileLiteral(decl PropertyDecl, path string, v cue.Value) (PropertyDecl, error) {
	defVal := v.LookupPath(cue.ParsePath("default"))
	if !defVal.Exists() {
		return decl, nil
	}
	def, err := compileValue(defVal, decl.Kind, decl.Unit, path+".default")
	if err != nil {
		return decl, err
	}
	decl.Default = def
	return decl, nil
}

// compileValue converts a concrete CUE value into a domain value. The
// declared kind disambiguates strings (text vs datetime vs reference);
// without one the CUE kind decides.
func compileValue(v cue.Value, kind value.Kind, unit, path string) (value.Value, error) {
	switch v.Kind() {
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		switch kind {
		case value.KindDatetime:
			return value.Datetime(s), nil
		case value.KindReference:
			return value.Reference(s), nil
		case value.KindText, "":
			return value.Text(s), nil
		default:
			return nil, &CompileError{
				Field:   path,
				Message: fmt.Sprintf("string default does not fit declared kind %q", kind),
				Pos:     v.Pos(),
			}
		}
	case cue.IntKind, cue.FloatKind, cue.NumberKind:
		f, err := v.Float64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return value.NumUnit(f, unit), nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return value.Boolean(b), nil
	default:
		return nil, &CompileError{
			Field:   path,
			Message: fmt.Sprintf("unsupported default kind: %v", v.Kind()),
			Pos:     v.Pos(),
		}
	}
}

func fieldPath(typeName, propName string) string {
	if propName == "" {
		return "types." + typeName
	}
	return "types." + typeName + ".properties." + propName
}

// CompileError is a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
