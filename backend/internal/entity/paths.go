package entity

import "sort"

// DescriptorPaths is the flattened view of a document: every dotted leaf
// path plus the set of leaf field names.
type DescriptorPaths struct {
	Fields []string
	Paths  []string
}

// ComputeDescriptorPaths flattens the document to its dotted leaf paths,
// excluding any field named in the ignore list at any depth. Fields is the
// deduplicated set of leaf names, Paths the full dotted paths; both sorted.
func (d *Document) ComputeDescriptorPaths(ignore []string) DescriptorPaths {
	return ComputeDescriptorPaths(d.Props, ignore)
}

// ComputeDescriptorPaths is the map-level flattening behind the document
// method.
func ComputeDescriptorPaths(props map[string]any, ignore []string) DescriptorPaths {
	ignored := make(map[string]bool, len(ignore))
	for _, field := range ignore {
		ignored[field] = true
	}

	var paths []string
	fieldSet := make(map[string]bool)
	walkLeaves(props, "", ignored, func(path, field string) {
		paths = append(paths, path)
		fieldSet[field] = true
	})

	fields := make([]string, 0, len(fieldSet))
	for field := range fieldSet {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	sort.Strings(paths)
	return DescriptorPaths{Fields: fields, Paths: paths}
}

// ComputeDescriptorPathsDiffs compares the leaf field names of two document
// snapshots and returns a signed count per name: +1 for each occurrence
// gained, -1 for each lost. Same-named leaves at different nesting depths
// fall into one bucket; this coarsening is intentional and preserved.
func ComputeDescriptorPathsDiffs(oldProps, newProps map[string]any) map[string]int {
	counts := make(map[string]int)
	walkLeaves(oldProps, "", nil, func(_, field string) {
		counts[field]--
	})
	walkLeaves(newProps, "", nil, func(_, field string) {
		counts[field]++
	})
	for field, count := range counts {
		if count == 0 {
			delete(counts, field)
		}
	}
	return counts
}

// walkLeaves visits every non-map leaf of the nested property map, passing
// the dotted path and the leaf field name.
func walkLeaves(props map[string]any, prefix string, ignored map[string]bool, visit func(path, field string)) {
	for field, value := range props {
		if ignored[field] {
			continue
		}
		path := field
		if prefix != "" {
			path = prefix + "." + field
		}
		if nested, ok := value.(map[string]any); ok {
			walkLeaves(nested, path, ignored, visit)
			continue
		}
		visit(path, field)
	}
}
