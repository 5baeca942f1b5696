package actionvm

// PolicyAction is what a matching SecurityRule prescribes (spec §4.F).
type PolicyAction int

const (
	ActionAllow PolicyAction = iota
	ActionDeny
	ActionBlock
	ActionQuarantine
	ActionAlert
	ActionLog
)

func (a PolicyAction) String() string {
	switch a {
	case ActionAllow:
		return "Allow"
	case ActionDeny:
		return "Deny"
	case ActionBlock:
		return "Block"
	case ActionQuarantine:
		return "Quarantine"
	case ActionAlert:
		return "Alert"
	case ActionLog:
		return "Log"
	default:
		return "Unknown"
	}
}

// EnforcementLevel governs how strictly matched rules are applied.
type EnforcementLevel int

const (
	EnforcementAdvisory EnforcementLevel = iota
	EnforcementWarning
	EnforcementBlocking
	EnforcementStrict
	EnforcementEmergency
)

func (l EnforcementLevel) String() string {
	switch l {
	case EnforcementAdvisory:
		return "Advisory"
	case EnforcementWarning:
		return "Warning"
	case EnforcementBlocking:
		return "Blocking"
	case EnforcementStrict:
		return "Strict"
	case EnforcementEmergency:
		return "Emergency"
	default:
		return "Unknown"
	}
}

// blocks reports whether this enforcement level, combined with a rule's
// action, should refuse the operation outright rather than merely log it.
func (l EnforcementLevel) blocks(action PolicyAction) bool {
	switch l {
	case EnforcementAdvisory, EnforcementWarning:
		return false
	default: // Blocking, Strict, Emergency
		return action == ActionDeny || action == ActionBlock || action == ActionQuarantine
	}
}

// Condition evaluates whether a SecurityRule applies to a deploy request.
// Implementations close over whatever deploy-time context they need.
type Condition func(ctx DeployContext) bool

// SecurityRule is one entry in the active policy set (spec §4.F).
type SecurityRule struct {
	Name      string
	Condition Condition
	Action    PolicyAction
	Severity  string
}

// DeployContext is the information a SecurityRule's Condition can inspect.
type DeployContext struct {
	ContractType ContractType
	AppID        string
	ConfigHash   [32]byte
}

// Policy is the active, ordered set of security rules evaluated at a
// given EnforcementLevel.
type Policy struct {
	Rules      []SecurityRule
	Enforcement EnforcementLevel
}

// Decision is the outcome of evaluating a Policy against a DeployContext.
type Decision struct {
	Refused bool
	Matched []SecurityRule
}

// Evaluate implements spec §4.F's "every operation is checked against the
// active policy set": all matching rules are collected; if the
// enforcement level blocks any matched action the deploy is refused,
// otherwise it proceeds (with the match set available for audit logging).
func (p Policy) Evaluate(ctx DeployContext) Decision {
	var matched []SecurityRule
	refused := false
	for _, rule := range p.Rules {
		if rule.Condition == nil || !rule.Condition(ctx) {
			continue
		}
		matched = append(matched, rule)
		if p.Enforcement.blocks(rule.Action) {
			refused = true
		}
	}
	return Decision{Refused: refused, Matched: matched}
}
