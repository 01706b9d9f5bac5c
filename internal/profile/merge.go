package profile

// Merge applies patch onto base and returns the result. Top-level keys
// overwrite (last write wins per leaf); when both sides hold a map for
// the same key, the maps are merged one level deep. Neither input is
// mutated, so concurrent writers merging disjoint keys both persist.
// Merge is idempotent: applying the same patch twice equals applying it
// once.
func Merge(base, patch Attributes) Attributes {
	out := make(Attributes, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		patchMap, patchIsMap := v.(map[string]interface{})
		baseMap, baseIsMap := out[k].(map[string]interface{})
		if patchIsMap && baseIsMap {
			merged := make(map[string]interface{}, len(baseMap)+len(patchMap))
			for nk, nv := range baseMap {
				merged[nk] = nv
			}
			for nk, nv := range patchMap {
				merged[nk] = nv
			}
			out[k] = merged
			continue
		}
		out[k] = v
	}
	return out
}
