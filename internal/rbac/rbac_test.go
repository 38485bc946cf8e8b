package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "annotator read", role: RoleAnnotator, action: ActionRead, allow: true},
		{name: "annotator annotate", role: RoleAnnotator, action: ActionAnnotate, allow: true},
		{name: "annotator review", role: RoleAnnotator, action: ActionReview, allow: false},
		{name: "reviewer review", role: RoleReviewer, action: ActionReview, allow: true},
		{name: "reviewer annotate", role: RoleReviewer, action: ActionAnnotate, allow: false},
		{name: "reviewer admin", role: RoleReviewer, action: ActionAdmin, allow: false},
		{name: "admin admin", role: RoleAdmin, action: ActionAdmin, allow: true},
		{name: "admin review", role: RoleAdmin, action: ActionReview, allow: true},
		{name: "unknown role", role: Role("ghost"), action: ActionRead, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("reviewer"); got != RoleReviewer {
		t.Fatalf("Normalize(reviewer) = %q", got)
	}
	if got := Normalize("nonsense"); got != RoleAnnotator {
		t.Fatalf("Normalize(nonsense) = %q, want annotator default", got)
	}
}
