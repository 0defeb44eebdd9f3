package presence

import (
	"regexp"
	"strings"

	"tutorlink/pkg/types"
)

// allWord matches "all" as a whole word anywhere in a stored topic.
//
// TODO(product): a topic such as "All Saints" is treated as a wildcard and
// matches every search. Kept for compatibility with existing tutor profiles.
var allWord = regexp.MustCompile(`(?i)\ball\b`)

// topicMatches applies the wildcard rule: an empty stored topic, or one
// containing the whole word "all", matches any wanted topic.
func topicMatches(stored, wanted string) bool {
	if wanted == "" {
		return true
	}
	stored = strings.TrimSpace(stored)
	if stored == "" || allWord.MatchString(stored) {
		return true
	}
	return strings.EqualFold(stored, strings.TrimSpace(wanted))
}

func fieldMatches(stored, wanted string) bool {
	wanted = strings.TrimSpace(wanted)
	return wanted == "" || strings.EqualFold(strings.TrimSpace(stored), wanted)
}

// SkillMatches reports whether one taught skill satisfies the criteria.
func SkillMatches(s types.Skill, c types.FindTutorsPayload) bool {
	return fieldMatches(s.Class, c.Class) &&
		fieldMatches(s.Subject, c.Subject) &&
		topicMatches(s.Topic, c.Topic)
}
