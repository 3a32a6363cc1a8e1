package injection

import "regexp"

// Class groups catalogue patterns by the kind of manipulation they detect.
type Class string

const (
	ClassInstructionOverride Class = "instruction_override"
	ClassRoleSpoofing        Class = "role_spoofing"
	ClassFundExfiltration    Class = "fund_exfiltration"
	ClassCoercion            Class = "coercion"
	ClassJailbreak           Class = "jailbreak"
)

// Pattern is one tagged entry of the detection catalogue.
type Pattern struct {
	ID    string
	Class Class
	Expr  *regexp.Regexp
}

func newPattern(id string, class Class, expr string) Pattern {
	return Pattern{ID: id, Class: class, Expr: regexp.MustCompile(`(?i)` + expr)}
}

// ── Catalogue ───────────────────────────────────────────────

var catalogue = []Pattern{
	// instruction override
	newPattern("override.ignore_previous", ClassInstructionOverride,
		`\b(ignore|disregard|forget|skip)\s+(all\s+|any\s+)?(the\s+|your\s+|my\s+)?(previous|prior|above|earlier|preceding)\s+(instructions?|prompts?|rules?|directions?|messages?)`),
	newPattern("override.disregard_all", ClassInstructionOverride,
		`\bdisregard\s+(all|everything|anything)\b`),
	newPattern("override.forget_everything", ClassInstructionOverride,
		`\bforget\s+(everything|all)\b`),
	newPattern("override.new_instructions", ClassInstructionOverride,
		`\b(new|updated|real|actual)\s+instructions?\s*:`),
	newPattern("override.bypass_controls", ClassInstructionOverride,
		`\b(override|bypass|disable|turn\s+off)\s+(the\s+|all\s+|any\s+|your\s+)?(security|safety|guardrails?|restrictions?|rules|filters?|approvals?)\b`),

	// role spoofing
	newPattern("role.system_prefix", ClassRoleSpoofing, `\bsystem\s*:`),
	newPattern("role.system_tag", ClassRoleSpoofing, `(\[\s*system\s*\]|<\s*/?\s*system\s*>)`),
	newPattern("role.admin_tag", ClassRoleSpoofing, `\[\s*(admin|administrator|root|developer|operator)\s*\]`),
	newPattern("role.act_as", ClassRoleSpoofing, `\bact\s+as\b`),
	newPattern("role.you_are_now", ClassRoleSpoofing, `\byou\s+are\s+now\b`),
	newPattern("role.pretend", ClassRoleSpoofing, `\bpretend\s+(to\s+be|you\s+are)\b`),

	// fund exfiltration
	newPattern("exfil.transfer_to_address", ClassFundExfiltration,
		`\b(transfer|send|withdraw|drain)\b(\s+(all|everything))?[^\n]{0,80}?\b0x[0-9a-f]{40}\b`),
	newPattern("exfil.send_all_to", ClassFundExfiltration,
		`\b(send|transfer|move)\s+(all|everything)\s+(of\s+)?((my|your|the)\s+)?((tokens|funds|assets|crypto|coins|balances?|money)\s+)?to\b`),
	newPattern("exfil.drain_wallet", ClassFundExfiltration,
		`\bdrain\s+(the\s+|my\s+|this\s+|your\s+)?(wallet|account|funds)\b`),
	newPattern("exfil.secret_material", ClassFundExfiltration,
		`\b(reveal|show|give|send|share|export|print|tell)\b[^\n]{0,40}\b(private\s+keys?|seed\s+phrase|mnemonic|recovery\s+phrase)\b`),

	// coercion
	newPattern("coerce.must_obey", ClassCoercion, `\byou\s+must\s+(obey|comply|do\s+as)\b`),
	newPattern("coerce.cannot_refuse", ClassCoercion, `\b(cannot|can't|can\s+not|are\s+not\s+allowed\s+to)\s+refuse\b`),
	newPattern("coerce.skip_confirmation", ClassCoercion,
		`\b(without|skip(ping)?|no\s+need\s+for)\s+(asking\s+for\s+|any\s+|the\s+|my\s+)?(confirmation|approval|review)\b`),

	// jailbreak
	newPattern("jailbreak.keyword", ClassJailbreak, `\b(jailbreak|jailbroken|dan\s+mode|developer\s+mode|god\s+mode)\b`),
	newPattern("jailbreak.do_anything_now", ClassJailbreak, `\bdo\s+anything\s+now\b`),
	newPattern("jailbreak.no_restrictions", ClassJailbreak, `\b(without|with\s+no|no)\s+(any\s+)?(restrictions|limitations|filters|guardrails)\b`),
	newPattern("jailbreak.reveal_prompt", ClassJailbreak,
		`\b(reveal|show|print|repeat)\s+(me\s+)?(your|the)\s+(system\s+)?(prompt|instructions)\b`),
}

// DefaultCatalogue returns a copy of the built-in ordered pattern catalogue.
func DefaultCatalogue() []Pattern {
	return append([]Pattern(nil), catalogue...)
}
