package agent

import "regexp"

// qaRolePattern matches roles that designate a QA agent: the word "qa" on its
// own (any case) or the phrase "quality assurance". Substrings of longer
// words do not count.
var qaRolePattern = regexp.MustCompile(`(?i)(\bqa\b|quality\s+assurance)`)

// IsQA reports whether the agent is a designated reviewer that gates
// transitions into done.
func (a *Agent) IsQA() bool {
	if a.Slug == "qa" {
		return true
	}
	return qaRolePattern.MatchString(a.Role)
}
