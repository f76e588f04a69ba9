package governance

import (
	"fmt"
	"slices"
	"sort"

	"github.com/Mindburn-Labs/failsafe/pkg/contracts"
)

func validateAuthority(consumer, provider *contracts.AgentIdentity, c *contracts.HandoffContract, payload contracts.HandoffPayload) []contracts.PolicyViolation {
	if consumer == nil || provider == nil {
		var missing []string
		if consumer == nil {
			missing = append(missing, c.ConsumerAgent)
		}
		if provider == nil {
			missing = append(missing, c.ProviderAgent)
		}
		v := RuleUnregisteredAgent.violation("One or both agents are not registered", "")
		v.Actual = missing
		return []contracts.PolicyViolation{v}
	}

	var out []contracts.PolicyViolation

	if !consumer.AuthorityLevel.AtLeast(c.RequiredAuthority) {
		v := RuleInsufficientAuthority.violation(fmt.Sprintf("Agent '%s' has authority '%s' but handoff requires '%s'",
			consumer.Name, consumer.AuthorityLevel, c.RequiredAuthority), "")
		v.Expected, v.Actual = string(c.RequiredAuthority), string(consumer.AuthorityLevel)
		out = append(out, v)
	}

	if c.MaxDataClassification.Rank() > consumer.MaxDataClassification.Rank() {
		v := RuleDataClassificationExceeded.violation(fmt.Sprintf("Agent '%s' clearance is '%s' but handoff contains '%s' data",
			consumer.Name, consumer.MaxDataClassification, c.MaxDataClassification), "")
		v.Expected, v.Actual = "<= "+string(consumer.MaxDataClassification), string(c.MaxDataClassification)
		out = append(out, v)
	}

	if action := payload.Action(); action != "" {
		if slices.Contains(c.ProhibitedActions, action) {
			v := RuleProhibitedAction.violation(fmt.Sprintf("Action '%s' is prohibited by contract", action), "metadata.action")
			v.Expected, v.Actual = fmt.Sprintf("not in %v", c.ProhibitedActions), action
			out = append(out, v)
		}
		if len(c.AllowedActions) > 0 && !slices.Contains(c.AllowedActions, action) {
			v := RuleUnauthorizedAction.violation(fmt.Sprintf("Action '%s' is not in the allowed actions list: %v", action, c.AllowedActions), "metadata.action")
			v.Expected, v.Actual = c.AllowedActions, action
			out = append(out, v)
		}
	}

	var missing []string
	for _, s := range c.RequiredComplianceScopes {
		if !consumer.HasScope(s) && !slices.Contains(missing, s) {
			missing = append(missing, s)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		v := RuleMissingComplianceScope.violation(fmt.Sprintf("Agent '%s' is missing compliance scopes: %v", consumer.Name, missing), "")
		v.Expected, v.Actual = c.RequiredComplianceScopes, missing
		out = append(out, v)
	}
	return out
}
