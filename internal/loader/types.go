package loader

import (
	"modvm/internal/storage"
	"modvm/internal/types"
	"modvm/internal/values"
	"modvm/internal/vmerr"
)

// Type is a fully instantiated type together with what the runtime needs to
// know about it.
type Type struct {
	Tag       types.TypeTag
	Abilities types.AbilitySet
	Layout    *values.Layout
	Struct    *StructType // TagStruct only
}

// maxTypeDepth bounds nesting of vectors and struct fields.
const maxTypeDepth = 64

// LoadType resolves tag, loading the modules that declare the structs it
// mentions. Results are cached for the lifetime of the loader.
func (l *Loader) LoadType(tag types.TypeTag, r storage.ModuleResolver) (*Type, error) {
	return l.loadType(tag, r, 0)
}

// TypeLayout is LoadType(tag).Layout.
func (l *Loader) TypeLayout(tag types.TypeTag, r storage.ModuleResolver) (*values.Layout, error) {
	t, err := l.LoadType(tag, r)
	if err != nil {
		return nil, err
	}
	return t.Layout, nil
}

// ResolveStruct finds the definition a struct tag names.
func (l *Loader) ResolveStruct(tag types.StructTag, r storage.ModuleResolver) (*StructType, error) {
	if len(tag.TypeParams) > 0 {
		return nil, vmerr.Newf(vmerr.TypeResolutionFailure, "%s: structs take no type parameters", tag)
	}
	m, err := l.LoadModule(tag.ModuleID(), r)
	if err != nil {
		return nil, err
	}
	st, ok := m.Struct(tag.Name)
	if !ok {
		return nil, vmerr.Newf(vmerr.TypeResolutionFailure, "%s does not define %s", m.id, tag.Name)
	}
	return st, nil
}

func (l *Loader) loadType(tag types.TypeTag, r storage.ModuleResolver, depth int) (*Type, error) {
	key := tag.String()
	l.typesMu.RLock()
	t, ok := l.types[key]
	l.typesMu.RUnlock()
	if ok {
		return t, nil
	}
	if depth > maxTypeDepth {
		return nil, vmerr.Newf(vmerr.TypeResolutionFailure, "type nesting exceeds %d at %s", maxTypeDepth, tag)
	}

	switch tag.Kind {
	case types.TagBool:
		t = &Type{Tag: tag, Abilities: types.AbilitiesPrimitive, Layout: values.BoolLayout}
	case types.TagU8:
		t = &Type{Tag: tag, Abilities: types.AbilitiesPrimitive, Layout: values.U8Layout}
	case types.TagU64:
		t = &Type{Tag: tag, Abilities: types.AbilitiesPrimitive, Layout: values.U64Layout}
	case types.TagAddress:
		t = &Type{Tag: tag, Abilities: types.AbilitiesPrimitive, Layout: values.AddressLayout}
	case types.TagSigner:
		t = &Type{Tag: tag, Abilities: types.AbilitiesSigner, Layout: values.SignerLayout}
	case types.TagVector:
		if tag.Elem == nil {
			return nil, vmerr.Newf(vmerr.TypeResolutionFailure, "vector without element type")
		}
		elem, err := l.loadType(*tag.Elem, r, depth+1)
		if err != nil {
			return nil, err
		}
		t = &Type{
			Tag:       tag,
			Abilities: elem.Abilities.Intersect(types.AbilitiesPrimitive),
			Layout:    values.VectorLayout(elem.Layout),
		}
	case types.TagStruct:
		if tag.Struct == nil {
			return nil, vmerr.Newf(vmerr.TypeResolutionFailure, "struct tag missing")
		}
		st, err := l.ResolveStruct(*tag.Struct, r)
		if err != nil {
			return nil, err
		}
		sl := &values.StructLayout{Tag: st.Tag(), Fields: make([]values.FieldLayout, len(st.Fields))}
		for i, f := range st.Fields {
			ftag, err := st.Module.TypeTag(f.Type, nil)
			if err != nil {
				return nil, err
			}
			ft, err := l.loadType(ftag, r, depth+1)
			if err != nil {
				return nil, err
			}
			sl.Fields[i] = values.FieldLayout{Name: f.Name, Layout: ft.Layout}
		}
		t = &Type{Tag: tag, Abilities: st.Abilities, Layout: &values.Layout{Kind: values.KindStruct, Struct: sl}, Struct: st}
	default:
		return nil, vmerr.Newf(vmerr.TypeResolutionFailure, "unknown type kind %s", tag.Kind)
	}

	l.typesMu.Lock()
	if prev, ok := l.types[key]; ok {
		t = prev
	} else {
		l.types[key] = t
	}
	l.typesMu.Unlock()
	return t, nil
}
