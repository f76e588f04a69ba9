package contracts

import (
	"fmt"
	"regexp"
	"slices"
	"sort"

	"github.com/Masterminds/semver/v3"
)

// FieldContract constrains one payload field.
type FieldContract struct {
	Name               string             `json:"name" yaml:"name"`
	Type               FieldType          `json:"type" yaml:"type"`
	Required           bool               `json:"required" yaml:"required"`
	Description        string             `json:"description,omitempty" yaml:"description,omitempty"`
	Pattern            string             `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	MinValue           *float64           `json:"min_value,omitempty" yaml:"min_value,omitempty"`
	MaxValue           *float64           `json:"max_value,omitempty" yaml:"max_value,omitempty"`
	EnumValues         []any              `json:"enum_values,omitempty" yaml:"enum_values,omitempty"`
	MaxLength          *int               `json:"max_length,omitempty" yaml:"max_length,omitempty"`
	DataClassification DataClassification `json:"data_classification,omitempty" yaml:"data_classification,omitempty"`
	PII                bool               `json:"pii,omitempty" yaml:"pii,omitempty"`
	PHI                bool               `json:"phi,omitempty" yaml:"phi,omitempty"`
	FinancialData      bool               `json:"financial_data,omitempty" yaml:"financial_data,omitempty"`

	re *regexp.Regexp
}

// MatchPattern reports whether s matches the field pattern anchored at the
// start of s. A field without a pattern matches everything.
func (f *FieldContract) MatchPattern(s string) bool {
	if f.Pattern == "" {
		return true
	}
	re := f.re
	if re == nil {
		var err error
		re, err = compileAnchored(f.Pattern)
		if err != nil {
			return false
		}
	}
	loc := re.FindStringIndex(s)
	return loc != nil && loc[0] == 0
}

// compileAnchored makes p match only at the start of the input. Authors add
// $ for a full match.
func compileAnchored(p string) (*regexp.Regexp, error) {
	return regexp.Compile(`\A(?:` + p + `)`)
}

// Sensitive reports whether the field carries PII, PHI or financial data.
func (f *FieldContract) Sensitive() bool {
	return f.PII || f.PHI || f.FinancialData
}

// HandoffContract governs exchanges between a consumer and a provider agent.
type HandoffContract struct {
	ContractID               string             `json:"contract_id" yaml:"contract_id"`
	Name                     string             `json:"name,omitempty" yaml:"name,omitempty"`
	Description              string             `json:"description,omitempty" yaml:"description,omitempty"`
	Version                  string             `json:"version,omitempty" yaml:"version,omitempty"`
	ConsumerAgent            string             `json:"consumer_agent" yaml:"consumer_agent"`
	ProviderAgent            string             `json:"provider_agent" yaml:"provider_agent"`
	RequestSchema            []FieldContract    `json:"request_schema,omitempty" yaml:"request_schema,omitempty"`
	ResponseSchema           []FieldContract    `json:"response_schema,omitempty" yaml:"response_schema,omitempty"`
	RequiredAuthority        AuthorityLevel     `json:"required_authority" yaml:"required_authority"`
	AllowedActions           []string           `json:"allowed_actions,omitempty" yaml:"allowed_actions,omitempty"`
	ProhibitedActions        []string           `json:"prohibited_actions,omitempty" yaml:"prohibited_actions,omitempty"`
	RequiredComplianceScopes []string           `json:"required_compliance_scopes,omitempty" yaml:"required_compliance_scopes,omitempty"`
	MaxDataClassification    DataClassification `json:"max_data_classification" yaml:"max_data_classification"`
	RequireAuditTrail        bool               `json:"require_audit_trail,omitempty" yaml:"require_audit_trail,omitempty"`
	RequireHumanApproval     bool               `json:"require_human_approval,omitempty" yaml:"require_human_approval,omitempty"`
	MaxLatencyMs             *int               `json:"max_latency_ms,omitempty" yaml:"max_latency_ms,omitempty"`
	TimeoutMs                int                `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
}

// Schema returns the field list governing the given direction.
func (c *HandoffContract) Schema(d Direction) []FieldContract {
	if d == DirectionResponse {
		return c.ResponseSchema
	}
	return c.RequestSchema
}

// HasScope reports whether the contract requires compliance scope s.
func (c *HandoffContract) HasScope(s string) bool {
	return slices.Contains(c.RequiredComplianceScopes, s)
}

// Validate rejects contracts that can never be satisfied or are malformed.
func (c *HandoffContract) Validate() error {
	if c.ContractID == "" {
		return fmt.Errorf("%w: contract_id is required", ErrInvalidContract)
	}
	if c.ConsumerAgent == "" || c.ProviderAgent == "" {
		return fmt.Errorf("%w: contract %q: consumer_agent and provider_agent are required", ErrInvalidContract, c.ContractID)
	}
	if c.Version != "" {
		if _, err := semver.NewVersion(c.Version); err != nil {
			return fmt.Errorf("%w: contract %q: version %q: %v", ErrInvalidContract, c.ContractID, c.Version, err)
		}
	}
	if c.RequiredAuthority != "" && !c.RequiredAuthority.Valid() {
		return fmt.Errorf("%w: contract %q: unknown required authority %q", ErrInvalidContract, c.ContractID, c.RequiredAuthority)
	}
	if c.MaxDataClassification != "" && !c.MaxDataClassification.Valid() {
		return fmt.Errorf("%w: contract %q: unknown data classification %q", ErrInvalidContract, c.ContractID, c.MaxDataClassification)
	}
	if overlap := intersect(c.AllowedActions, c.ProhibitedActions); len(overlap) > 0 {
		return fmt.Errorf("%w: contract %q: actions both allowed and prohibited: %v", ErrInvalidContract, c.ContractID, overlap)
	}
	for _, schema := range [][]FieldContract{c.RequestSchema, c.ResponseSchema} {
		seen := make(map[string]bool, len(schema))
		for i := range schema {
			f := &schema[i]
			if err := validateField(c.ContractID, f); err != nil {
				return err
			}
			if seen[f.Name] {
				return fmt.Errorf("%w: contract %q: duplicate field %q", ErrInvalidContract, c.ContractID, f.Name)
			}
			seen[f.Name] = true
		}
	}
	return nil
}

func validateField(contractID string, f *FieldContract) error {
	if f.Name == "" {
		return fmt.Errorf("%w: contract %q: field without name", ErrInvalidContract, contractID)
	}
	if !f.Type.Valid() {
		return fmt.Errorf("%w: contract %q: field %q: unknown type %q", ErrInvalidContract, contractID, f.Name, f.Type)
	}
	if f.DataClassification != "" && !f.DataClassification.Valid() {
		return fmt.Errorf("%w: contract %q: field %q: unknown data classification %q", ErrInvalidContract, contractID, f.Name, f.DataClassification)
	}
	if f.MinValue != nil && f.MaxValue != nil && *f.MinValue > *f.MaxValue {
		return fmt.Errorf("%w: contract %q: field %q: min_value exceeds max_value", ErrInvalidContract, contractID, f.Name)
	}
	if f.MaxLength != nil && *f.MaxLength < 0 {
		return fmt.Errorf("%w: contract %q: field %q: negative max_length", ErrInvalidContract, contractID, f.Name)
	}
	if f.Pattern != "" {
		if _, err := compileAnchored(f.Pattern); err != nil {
			return fmt.Errorf("%w: contract %q: field %q: pattern: %v", ErrInvalidContract, contractID, f.Name, err)
		}
	}
	return nil
}

// Normalize fills defaults: read_only authority and internal ceiling.
func (c *HandoffContract) Normalize() {
	if c.RequiredAuthority == "" {
		c.RequiredAuthority = AuthorityReadOnly
	}
	if c.MaxDataClassification == "" {
		c.MaxDataClassification = ClassificationInternal
	}
	for _, schema := range [][]FieldContract{c.RequestSchema, c.ResponseSchema} {
		for i := range schema {
			if schema[i].DataClassification == "" {
				schema[i].DataClassification = ClassificationPublic
			}
		}
	}
}

// Compile validates c and caches compiled field patterns on it.
func (c *HandoffContract) Compile() error {
	if err := c.Validate(); err != nil {
		return err
	}
	for _, schema := range [][]FieldContract{c.RequestSchema, c.ResponseSchema} {
		for i := range schema {
			if schema[i].Pattern == "" {
				continue
			}
			re, err := compileAnchored(schema[i].Pattern)
			if err != nil {
				return fmt.Errorf("%w: contract %q: field %q: pattern: %v", ErrInvalidContract, c.ContractID, schema[i].Name, err)
			}
			schema[i].re = re
		}
	}
	return nil
}

// Clone returns a deep copy that shares no slices with c.
func (c *HandoffContract) Clone() *HandoffContract {
	if c == nil {
		return nil
	}
	out := *c
	out.RequestSchema = cloneFields(c.RequestSchema)
	out.ResponseSchema = cloneFields(c.ResponseSchema)
	out.AllowedActions = slices.Clone(c.AllowedActions)
	out.ProhibitedActions = slices.Clone(c.ProhibitedActions)
	out.RequiredComplianceScopes = slices.Clone(c.RequiredComplianceScopes)
	if c.MaxLatencyMs != nil {
		v := *c.MaxLatencyMs
		out.MaxLatencyMs = &v
	}
	return &out
}

func cloneFields(in []FieldContract) []FieldContract {
	if in == nil {
		return nil
	}
	out := make([]FieldContract, len(in))
	for i, f := range in {
		f.EnumValues = slices.Clone(f.EnumValues)
		if f.MinValue != nil {
			v := *f.MinValue
			f.MinValue = &v
		}
		if f.MaxValue != nil {
			v := *f.MaxValue
			f.MaxValue = &v
		}
		if f.MaxLength != nil {
			v := *f.MaxLength
			f.MaxLength = &v
		}
		out[i] = f
	}
	return out
}

func intersect(a, b []string) []string {
	var out []string
	for _, x := range a {
		if slices.Contains(b, x) && !slices.Contains(out, x) {
			out = append(out, x)
		}
	}
	sort.Strings(out)
	return out
}
