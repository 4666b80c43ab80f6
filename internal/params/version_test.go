package params

import "testing"

func TestCheckConstraint(t *testing.T) {
	tests := []struct {
		constraint string
		version    string
		wantErr    bool
	}{
		// Exact
		{"=1.2.3", "1.2.3", false},
		{"=1.2.3", "1.2.4", true},

		// At least
		{">=1.2.0", "1.2.0", false},
		{">=1.2.0", "1.3.0", false},
		{">=1.2.0", "2.0.0", false},
		{">=1.2.0", "1.1.9", true},

		// Caret: same major, at least
		{"^1.2.0", "1.5.0", false},
		{"^1.2.0", "1.1.0", true},
		{"^1.2.0", "2.0.0", true},

		// Bare version means caret
		{"1.2.0", "1.9.9", false},
		{"1.2.0", "2.0.0", true},

		// v-prefix and short forms tolerated
		{">=1.2", "v1.2.0", false},
		{"^1", "1.0.0", false},

		// Pre-release suffix stripped
		{">=1.2.0", "1.2.0-rc1", false},

		// Garbage
		{">=not.a.version", "1.0.0", true},
		{">=1.0.0", "garbage", true},
	}

	for _, tt := range tests {
		t.Run(tt.constraint+"/"+tt.version, func(t *testing.T) {
			err := CheckConstraint(tt.constraint, tt.version)
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckConstraint(%q, %q) = %v, wantErr %v", tt.constraint, tt.version, err, tt.wantErr)
			}
		})
	}
}
