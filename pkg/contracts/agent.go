package contracts

import (
	"fmt"
	"slices"
)

// AgentIdentity describes a registered agent and its clearances.
type AgentIdentity struct {
	Name                  string             `json:"name" yaml:"name"`
	Description           string             `json:"description,omitempty" yaml:"description,omitempty"`
	Version               string             `json:"version,omitempty" yaml:"version,omitempty"`
	URL                   string             `json:"url,omitempty" yaml:"url,omitempty"`
	Skills                []string           `json:"skills,omitempty" yaml:"skills,omitempty"`
	AuthorityLevel        AuthorityLevel     `json:"authority_level" yaml:"authority_level"`
	AllowedDomains        []string           `json:"allowed_domains,omitempty" yaml:"allowed_domains,omitempty"`
	MaxDataClassification DataClassification `json:"max_data_classification" yaml:"max_data_classification"`
	ComplianceScopes      []string           `json:"compliance_scopes,omitempty" yaml:"compliance_scopes,omitempty"`
	Metadata              map[string]any     `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Validate checks the identity is usable. Empty enum fields are filled with
// their defaults by Normalize and are accepted here.
func (a *AgentIdentity) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidAgent)
	}
	if a.AuthorityLevel != "" && !a.AuthorityLevel.Valid() {
		return fmt.Errorf("%w: agent %q: unknown authority level %q", ErrInvalidAgent, a.Name, a.AuthorityLevel)
	}
	if a.MaxDataClassification != "" && !a.MaxDataClassification.Valid() {
		return fmt.Errorf("%w: agent %q: unknown data classification %q", ErrInvalidAgent, a.Name, a.MaxDataClassification)
	}
	return nil
}

// Normalize fills defaults: read_only authority and public clearance.
func (a *AgentIdentity) Normalize() {
	if a.AuthorityLevel == "" {
		a.AuthorityLevel = AuthorityReadOnly
	}
	if a.MaxDataClassification == "" {
		a.MaxDataClassification = ClassificationPublic
	}
}

// HasDomain reports whether d is one of the agent's allowed domains.
func (a *AgentIdentity) HasDomain(d string) bool {
	return slices.Contains(a.AllowedDomains, d)
}

// HasScope reports whether s is one of the agent's compliance scopes.
func (a *AgentIdentity) HasScope(s string) bool {
	return slices.Contains(a.ComplianceScopes, s)
}

// Clone returns a deep copy. Metadata values are copied shallowly.
func (a *AgentIdentity) Clone() *AgentIdentity {
	if a == nil {
		return nil
	}
	c := *a
	c.Skills = slices.Clone(a.Skills)
	c.AllowedDomains = slices.Clone(a.AllowedDomains)
	c.ComplianceScopes = slices.Clone(a.ComplianceScopes)
	if a.Metadata != nil {
		c.Metadata = make(map[string]any, len(a.Metadata))
		for k, v := range a.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
