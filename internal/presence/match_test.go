package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"tutorlink/pkg/types"
)

func TestTopicWildcard(t *testing.T) {
	tests := []struct {
		name   string
		stored string
		wanted string
		want   bool
	}{
		{"upper ALL", "ALL", "Algebra", true},
		{"all topics phrase", "all topics", "Algebra", true},
		{"empty stored topic", "", "Algebra", true},
		{"exact case-insensitive", "algebra", "Algebra", true},
		{"different topic", "Geometry", "Algebra", false},
		{"substring trap", "volleyball", "all", false},
		{"substring trap other way", "ballet", "Algebra", false},
		{"no criterion", "Geometry", "", true},
		{"whole word inside phrase", "Math: All Levels", "Calculus", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, topicMatches(tt.stored, tt.wanted))
		})
	}
}

func TestSkillMatches(t *testing.T) {
	skill := types.Skill{Class: "Grade 10", Subject: "Math", Topic: "Algebra"}

	assert.True(t, SkillMatches(skill, types.FindTutorsPayload{}))
	assert.True(t, SkillMatches(skill, types.FindTutorsPayload{Class: "grade 10", Subject: "MATH"}))
	assert.True(t, SkillMatches(skill, types.FindTutorsPayload{Subject: "math", Topic: "algebra"}))
	assert.False(t, SkillMatches(skill, types.FindTutorsPayload{Class: "Grade 11"}))
	assert.False(t, SkillMatches(skill, types.FindTutorsPayload{Subject: "Physics"}))
	assert.False(t, SkillMatches(skill, types.FindTutorsPayload{Topic: "Geometry"}))
}
