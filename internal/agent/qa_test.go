package agent

import "testing"

func TestIsQA(t *testing.T) {
	tests := []struct {
		name string
		slug string
		role string
		want bool
	}{
		{"qa slug", "qa", "", true},
		{"qa role word", "tester-1", "QA", true},
		{"qa role lowercase", "tester-1", "senior qa engineer", true},
		{"quality assurance role", "tester-1", "Quality Assurance", true},
		{"quality assurance mixed case", "tester-1", "quality   Assurance lead", true},
		{"qa as substring does not count", "tester-1", "qatar operations", false},
		{"aqa substring does not count", "tester-1", "aqatic", false},
		{"developer role", "dev-1", "backend developer", false},
		{"empty", "dev-1", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &Agent{Slug: tt.slug, Role: tt.role}
			if got := a.IsQA(); got != tt.want {
				t.Errorf("IsQA() with slug=%q role=%q = %v, want %v", tt.slug, tt.role, got, tt.want)
			}
		})
	}
}
