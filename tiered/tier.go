// Package tiered implements the tiered extractor cascade: a Tier 0 regex
// pass followed by an escalating LLM cascade (local-light, local-standard,
// cloud-cheap, cloud-premium), routed per field by calibrated confidence.
package tiered

// Tier is one rung of the cascade. Tiers are totally ordered; a higher
// Tier is assumed more capable and more expensive.
type Tier int

const (
	TierRegex Tier = iota
	TierLocalLight
	TierLocalStandard
	TierCloudCheap
	TierCloudPremium
	tierCount
)

func (t Tier) String() string {
	switch t {
	case TierRegex:
		return "regex"
	case TierLocalLight:
		return "local_light"
	case TierLocalStandard:
		return "local_standard"
	case TierCloudCheap:
		return "cloud_cheap"
	case TierCloudPremium:
		return "cloud_premium"
	default:
		return "unknown"
	}
}

// IsLocal reports whether a tier runs against the local stream.
func (t Tier) IsLocal() bool {
	return t == TierLocalLight || t == TierLocalStandard
}

// IsCloud reports whether a tier runs against the cloud stream.
func (t Tier) IsCloud() bool {
	return t == TierCloudCheap || t == TierCloudPremium
}
