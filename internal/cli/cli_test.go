package cli

import "testing"

func TestParseRecordID(t *testing.T) {
	tests := []struct {
		input   string
		want    uint64
		wantErr bool
	}{
		{"0", 0, false},
		{"42", 42, false},
		{"1844674407370955161", 1844674407370955161, false},
		{"", 0, true},
		{"abc", 0, true},
		{"-1", 0, true},
	}

	for _, tt := range tests {
		got, err := parseRecordID(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseRecordID(%q) expected error", tt.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseRecordID(%q) error = %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseRecordID(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}
