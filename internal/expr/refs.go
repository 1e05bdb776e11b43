package expr

import "slices"

// StaticRefs is the statically discoverable reference surface of an
// expression: which sibling properties it names, which relationship
// collections it projects, and whether it contains cross-entity
// references whose targets are only known at evaluation time.
//
// The realized dependency set recorded during evaluation may be narrower
// (short-circuited branches) or, for cross-refs, only resolvable
// dynamically - this set is the prefetch hint, not the dependency record.
type StaticRefs struct {
	SelfProps []string
	Rels      []string
	HasCross  bool
}

// CollectRefs walks the AST and gathers its static reference surface.
// Results are sorted and de-duplicated for deterministic prefetch order.
func CollectRefs(n Node) StaticRefs {
	refs := StaticRefs{}
	collect(n, &refs)

	slices.Sort(refs.SelfProps)
	refs.SelfProps = slices.Compact(refs.SelfProps)
	slices.Sort(refs.Rels)
	refs.Rels = slices.Compact(refs.Rels)
	return refs
}

func collect(n Node, refs *StaticRefs) {
	switch node := n.(type) {
	case NumberLit, StringLit, BoolLit:
		// no references
	case SelfRef:
		refs.SelfProps = append(refs.SelfProps, node.Name)
	case CrossRef:
		refs.HasCross = true
		collect(node.Ref, refs)
	case RelRef:
		refs.Rels = append(refs.Rels, node.Rel)
	case Unary:
		collect(node.X, refs)
	case Binary:
		collect(node.X, refs)
		collect(node.Y, refs)
	case Call:
		for _, arg := range node.Args {
			collect(arg, refs)
		}
	}
}
