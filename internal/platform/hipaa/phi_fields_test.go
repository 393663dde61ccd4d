package hipaa

import "testing"

func TestPHIRoles(t *testing.T) {
	roles := PHIRoles()
	for _, r := range []string{"personName", "dateOfBirth", "phone", "email", "identifier"} {
		if !roles[r] {
			t.Errorf("expected %s to be PHI", r)
		}
	}
	for _, r := range []string{"npi", "code", "filterClause"} {
		if roles[r] {
			t.Errorf("expected %s not to be PHI", r)
		}
	}
}

func TestRedactValue(t *testing.T) {
	tests := []struct {
		role, value, want string
	}{
		{"personName", "John Smith", "J***"},
		{"phone", "555-123-4567", "5***"},
		{"email", "", ""},
		{"identifier", "MRN00001234", "M***"},
		{"personName", "Élodie", "É***"},
		{"npi", "1234567890", "1234567890"},
		{"code", "E11.9", "E11.9"},
	}
	for _, tt := range tests {
		if got := RedactValue(tt.role, tt.value); got != tt.want {
			t.Errorf("RedactValue(%s, %q) = %q, want %q", tt.role, tt.value, got, tt.want)
		}
	}
}
