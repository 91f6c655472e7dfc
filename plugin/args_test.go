package plugin

import (
	"reflect"
	"testing"
)

func TestArgs_Int(t *testing.T) {
	args := Args{"a": 3, "b": float64(4), "c": "5", "d": 1.5, "e": true, "f": nil}
	tests := []struct {
		name    string
		want    int
		wantErr bool
	}{
		{"a", 3, false},
		{"b", 4, false},
		{"c", 5, false},
		{"d", 0, true},
		{"e", 0, true},
		{"f", 9, false},
		{"missing", 9, false},
	}
	for _, tt := range tests {
		got, err := args.GetInt(tt.name, 9)
		if (err != nil) != tt.wantErr || (!tt.wantErr && got != tt.want) {
			t.Errorf("GetInt(%q) = %d, %v; want %d, err=%v", tt.name, got, err, tt.want, tt.wantErr)
		}
	}
}

func TestArgs_StringBoolStrings(t *testing.T) {
	args := Args{"s": "x", "n": 7, "b": "true", "list": []any{"a", 1}, "one": "solo"}
	if got := args.GetString("s", "d"); got != "x" {
		t.Errorf("GetString(s) = %q", got)
	}
	if got := args.GetString("n", "d"); got != "7" {
		t.Errorf("GetString(n) = %q", got)
	}
	if got := args.GetString("missing", "d"); got != "d" {
		t.Errorf("GetString(missing) = %q", got)
	}
	if got, err := args.GetBool("b", false); err != nil || !got {
		t.Errorf("GetBool(b) = %v, %v", got, err)
	}
	if _, err := args.GetBool("n", false); err == nil {
		t.Error("GetBool(n) error = nil")
	}
	if got := args.GetStrings("list"); !reflect.DeepEqual(got, []string{"a", "1"}) {
		t.Errorf("GetStrings(list) = %v", got)
	}
	if got := args.GetStrings("one"); !reflect.DeepEqual(got, []string{"solo"}) {
		t.Errorf("GetStrings(one) = %v", got)
	}
	if got := args.GetStrings("missing"); got != nil {
		t.Errorf("GetStrings(missing) = %v", got)
	}
}
