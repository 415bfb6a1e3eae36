package models

import "sort"

// Reserved identifiers. Resource type ids starting with "sf." and parameter
// names starting with "sf." belong to the system and cannot be claimed by
// user definitions.
const (
	// TaskRunnerReference is the claim reference under which every
	// executable task implicitly requires an execution agent.
	TaskRunnerReference = "SF_TR"

	// TaskRunnerType is the reserved resource type for execution agents.
	TaskRunnerType = "sf.tr"

	// RepoType is the reserved resource type for source repositories.
	RepoType = "sf.repo"

	// ReservedPrefix guards system resource type ids and parameter names.
	ReservedPrefix = "sf."
)

// ResourceSpec is one required resource slot: a reference label unique within
// its claim, a resource type id, and the capabilities the resource must offer.
type ResourceSpec struct {
	Reference    string   `json:"ref"`
	Type         string   `json:"type"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// NewResourceSpec creates a spec with normalised capabilities.
func NewResourceSpec(ref, resType string, caps []string) ResourceSpec {
	return ResourceSpec{
		Reference:    ref,
		Type:         resType,
		Capabilities: NormalizeCaps(caps),
	}
}

// ResourceClaim is an immutable collection of ResourceSpecs indexed by
// reference label. The zero value is an empty claim.
type ResourceClaim map[string]ResourceSpec

// NewResourceClaim builds a claim from specs. Later specs with a duplicate
// reference override earlier ones.
func NewResourceClaim(specs ...ResourceSpec) ResourceClaim {
	claim := make(ResourceClaim, len(specs))
	for _, spec := range specs {
		claim[spec.Reference] = spec
	}
	return claim
}

// Merge returns a new claim containing the specs from this claim and other.
// Specs with the same reference have their capability requirements united,
// unless the resource types differ, in which case the spec from other
// overrides the one from this claim.
func (c ResourceClaim) Merge(other ResourceClaim) ResourceClaim {
	merged := make(ResourceClaim, len(c)+len(other))
	for ref, spec := range c {
		merged[ref] = spec
	}
	for ref, spec := range other {
		ours, ok := merged[ref]
		if !ok || ours.Type != spec.Type {
			merged[ref] = spec
			continue
		}
		merged[ref] = ResourceSpec{
			Reference:    ref,
			Type:         spec.Type,
			Capabilities: UnionCaps(ours.Capabilities, spec.Capabilities),
		}
	}
	return merged
}

// WithTaskRunner returns a claim that includes the implicit SF_TR spec
// requiring an agent with the given capabilities. An explicit SF_TR spec in
// the claim keeps its own capability requirements united with caps.
func (c ResourceClaim) WithTaskRunner(caps []string) ResourceClaim {
	return c.Merge(NewResourceClaim(NewResourceSpec(TaskRunnerReference, TaskRunnerType, caps)))
}

// SpecsOfType returns the specs requesting resources of the given type,
// ordered by reference for deterministic matching.
func (c ResourceClaim) SpecsOfType(typeName string) []ResourceSpec {
	var specs []ResourceSpec
	for _, spec := range c {
		if spec.Type == typeName {
			specs = append(specs, spec)
		}
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Reference < specs[j].Reference })
	return specs
}

// Types returns the distinct resource type ids appearing in the claim, sorted.
func (c ResourceClaim) Types() []string {
	seen := make(map[string]bool)
	var types []string
	for _, spec := range c {
		if !seen[spec.Type] {
			seen[spec.Type] = true
			types = append(types, spec.Type)
		}
	}
	sort.Strings(types)
	return types
}
