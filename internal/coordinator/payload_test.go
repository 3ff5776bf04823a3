package coordinator

import (
	"encoding/json"
	"testing"
	"time"
)

func TestFields_NonObjectPayload(t *testing.T) {
	for _, raw := range []string{`[]`, `"x"`, `null`, ``, `{bad`} {
		if m := fields(json.RawMessage(raw)); len(m) != 0 {
			t.Errorf("fields(%q) = %v, want empty", raw, m)
		}
	}
}

func TestIDField(t *testing.T) {
	m := fields(json.RawMessage(`{"a":"x1","b":12345678901234,"c":true}`))

	tests := []struct {
		key  string
		want string
	}{
		{"a", "x1"},
		{"b", "12345678901234"},
		{"c", ""},
		{"missing", ""},
	}
	for _, tt := range tests {
		if got := idField(m, tt.key); got != tt.want {
			t.Errorf("idField(%s) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestFloatField(t *testing.T) {
	m := fields(json.RawMessage(`{"n":3.25,"s":" 7.5 ","bad":"x"}`))

	if got := floatField(m, "n"); got != 3.25 {
		t.Errorf("floatField(n) = %v", got)
	}
	if got := floatField(m, "s"); got != 7.5 {
		t.Errorf("floatField(s) = %v", got)
	}
	if got := floatField(m, "bad"); got != 0 {
		t.Errorf("floatField(bad) = %v", got)
	}
}

func TestTimeField(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    time.Time
	}{
		{"rfc3339", `{"timestamp":"2025-01-02T03:04:05.123Z"}`, time.Date(2025, 1, 2, 3, 4, 5, 123_000_000, time.UTC)},
		{"unix millis", `{"timestamp":1735787045000}`, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)},
		{"millis string", `{"timestamp":"1735787045000"}`, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)},
		{"garbage", `{"timestamp":"soon"}`, time.Time{}},
		{"missing", `{}`, time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := timeField(fields(json.RawMessage(tt.payload)), "timestamp")
			if !got.Equal(tt.want) {
				t.Errorf("timeField() = %v, want %v", got, tt.want)
			}
		})
	}
}
