package routing

import "strings"

// ResolveSource names which rule of §4.7 produced a provider resolution.
type ResolveSource string

const (
	SourceTierProviders ResolveSource = "tierProviders"
	SourceNative        ResolveSource = "native"
	SourceDefault       ResolveSource = "default"
)

// Resolution is the output of ResolveProvider.
type Resolution struct {
	Provider       string
	Source         ResolveSource
	MatchedPattern string
}

// ResolveProvider implements §4.7: pattern -> provider mapping.
func ResolveProvider(modelID string, tierProviders map[string]string) Resolution {
	if provider, ok := tierProviders[modelID]; ok {
		return Resolution{Provider: provider, Source: SourceTierProviders, MatchedPattern: modelID}
	}
	for pattern, provider := range tierProviders {
		prefix, isGlob := strings.CutSuffix(pattern, "/*")
		if !isGlob {
			continue
		}
		if strings.HasPrefix(modelID, prefix+"/") {
			return Resolution{Provider: provider, Source: SourceTierProviders, MatchedPattern: pattern}
		}
	}
	if provider, ok := tierProviders["*"]; ok {
		return Resolution{Provider: provider, Source: SourceTierProviders, MatchedPattern: "*"}
	}
	if idx := strings.Index(modelID, "/"); idx > 0 {
		return Resolution{Provider: modelID[:idx], Source: SourceNative}
	}
	return Resolution{Provider: "default", Source: SourceDefault}
}
