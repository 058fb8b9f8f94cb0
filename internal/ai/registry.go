package ai

import (
	"fmt"
	"strings"
)

type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderAmazon    Provider = "amazon"
	ProviderUnknown   Provider = "unknown"
)

type TargetKind int

const (
	TargetDirect TargetKind = iota
	TargetProfile
)

func (k TargetKind) String() string {
	if k == TargetProfile {
		return "profile"
	}
	return "direct"
}

// Target is where an invocation is addressed: a model id or an inference profile ARN.
type Target struct {
	Kind  TargetKind
	Value string
}

type ModelDescriptor struct {
	LogicalID string
	Provider  Provider
	Target    Target
}

func (d ModelDescriptor) UsesProfile() bool {
	return d.Target.Kind == TargetProfile
}

type ModelEntry struct {
	ID         string `json:"id" mapstructure:"id"`
	Provider   string `json:"provider" mapstructure:"provider"`
	ProfileARN string `json:"profile_arn" mapstructure:"profile_arn"`
}

const (
	ModelClaudeSonnet4 = "anthropic.claude-sonnet-4-20250514-v1:0"
	ModelNovaPro       = "amazon.nova-pro-v1:0"
)

// DefaultModels returns the built-in table. Profile ARNs are only filled when
// an account id is known, since cross-region profiles are account scoped.
func DefaultModels(region, accountID string) []ModelEntry {
	entries := []ModelEntry{
		{ID: ModelClaudeSonnet4, Provider: string(ProviderAnthropic)},
		{ID: ModelNovaPro, Provider: string(ProviderAmazon)},
	}
	if accountID == "" || region == "" {
		return entries
	}
	geo := profileGeo(region)
	for i := range entries {
		entries[i].ProfileARN = fmt.Sprintf("arn:aws:bedrock:%s:%s:inference-profile/%s.%s", region, accountID, geo, entries[i].ID)
	}
	return entries
}

func profileGeo(region string) string {
	switch {
	case strings.HasPrefix(region, "eu-"):
		return "eu"
	case strings.HasPrefix(region, "ap-"):
		return "apac"
	default:
		return "us"
	}
}

type Registry struct {
	region  string
	order   []string
	entries map[string]ModelEntry
}

func NewRegistry(region string, entries []ModelEntry) *Registry {
	r := &Registry{
		region:  region,
		entries: make(map[string]ModelEntry, len(entries)),
	}
	for _, e := range entries {
		id := strings.TrimSpace(e.ID)
		if id == "" {
			continue
		}
		if _, ok := r.entries[id]; !ok {
			r.order = append(r.order, id)
		}
		e.ID = id
		r.entries[id] = e
	}
	return r
}

// Resolve never fails: unregistered ids resolve to an unknown provider
// addressed directly.
func (r *Registry) Resolve(logicalID string) ModelDescriptor {
	desc := ModelDescriptor{
		LogicalID: logicalID,
		Provider:  ProviderUnknown,
		Target:    Target{Kind: TargetDirect, Value: logicalID},
	}
	entry, ok := r.entries[logicalID]
	if !ok {
		return desc
	}
	desc.Provider = parseProvider(entry.Provider)
	if entry.ProfileARN != "" {
		desc.Target = Target{Kind: TargetProfile, Value: entry.ProfileARN}
	}
	return desc
}

// ModelARN is the identifier used by the knowledge base APIs, which require
// an ARN even for directly addressed models.
func (r *Registry) ModelARN(desc ModelDescriptor) string {
	if desc.UsesProfile() {
		return desc.Target.Value
	}
	return fmt.Sprintf("arn:aws:bedrock:%s::foundation-model/%s", r.region, desc.LogicalID)
}

func (r *Registry) IsAllowed(logicalID string) bool {
	_, ok := r.entries[logicalID]
	return ok
}

func (r *Registry) AllowedModels() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Registry) Region() string {
	return r.region
}

func parseProvider(name string) Provider {
	switch Provider(strings.ToLower(strings.TrimSpace(name))) {
	case ProviderAnthropic:
		return ProviderAnthropic
	case ProviderAmazon:
		return ProviderAmazon
	default:
		return ProviderUnknown
	}
}
