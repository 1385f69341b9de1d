package detector

import (
	"fmt"
	"strings"
)

// explain builds the human-readable explanation attached to a result.
func explain(patterns []Pattern, score float64) string {
	if len(patterns) == 0 {
		return "No significant grooming patterns detected in this message."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Analysis detected %d potential grooming pattern(s) with an overall risk score of %.2f. ", len(patterns), score)

	names := make([]string, 0, len(patterns))
	for _, p := range patterns {
		names = append(names, titleCase(string(p)))
	}
	fmt.Fprintf(&b, "Detected patterns include: %s. ", strings.Join(names, ", "))

	switch {
	case score > 0.6:
		b.WriteString("This message shows multiple indicators of potential grooming behavior and requires immediate attention.")
	case score > 0.4:
		b.WriteString("This message contains concerning elements that warrant careful monitoring.")
	default:
		b.WriteString("This message shows some risk indicators but may be within normal communication patterns.")
	}

	return b.String()
}

// recommend produces actionable guidance for a given risk level and pattern
// set, ordered most urgent first.
func recommend(level RiskLevel, patterns []Pattern) []string {
	var recs []string

	switch level {
	case RiskCritical:
		recs = append(recs,
			"IMMEDIATE ACTION REQUIRED: Contact law enforcement",
			"Preserve all evidence and conversation history",
			"Ensure child's immediate safety",
			"Block the sender immediately",
			"Seek professional counseling support",
		)
	case RiskHigh:
		recs = append(recs,
			"Alert guardians/parents immediately",
			"Document and preserve the conversation",
			"Consider blocking the sender",
			"Monitor all future communications closely",
			"Consult with child protection services",
		)
	case RiskMedium:
		recs = append(recs,
			"Notify guardians/parents",
			"Increase monitoring frequency",
			"Document the conversation for future reference",
			"Discuss online safety with the child",
		)
	default:
		recs = append(recs,
			"Continue routine monitoring",
			"Log the interaction for pattern analysis",
			"Consider discussing online communication safety",
		)
	}

	for _, p := range patterns {
		switch p {
		case PatternMeetingRequest:
			recs = append(recs, "URGENT: Meeting request detected - prevent any in-person contact")
		case PatternSexualContent:
			recs = append(recs, "Sexual content detected - consider immediate intervention")
		case PatternSecrecy:
			recs = append(recs, "Secrecy patterns detected - discuss open communication with child")
		}
	}

	return recs
}

// titleCase turns "trust_building" into "Trust Building".
func titleCase(s string) string {
	parts := strings.Split(s, "_")
	for i, part := range parts {
		if part == "" {
			continue
		}
		parts[i] = strings.ToUpper(part[:1]) + part[1:]
	}
	return strings.Join(parts, " ")
}
