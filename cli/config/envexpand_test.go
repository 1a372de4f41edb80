package config

import (
	"strings"
	"testing"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("EDGE_HOST", "edge-01")
	t.Setenv("EDGE_PORT", "5555")
	t.Setenv("EMPTY_VAR", "")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"set", "host: ${EDGE_HOST}", "host: edge-01"},
		{"unset is empty", "host: ${UNSET_VAR_12345}", "host: "},
		{"fallback when unset", "port: ${UNSET_VAR_12345:-4000}", "port: 4000"},
		{"fallback when empty", "port: ${EMPTY_VAR:-4000}", "port: 4000"},
		{"fallback ignored when set", "port: ${EDGE_PORT:-4000}", "port: 5555"},
		{"required and set", "host: ${EDGE_HOST:?publish host}", "host: edge-01"},
		{"several on one line", "tcp://${EDGE_HOST}:${EDGE_PORT}", "tcp://edge-01:5555"},
		{"no references", "no variables here", "no variables here"},
		{"bare dollar kept", "cost: $5", "cost: $5"},
		{
			"comment lines untouched",
			"# token: ${HOOK_TOKEN:?set me}\nhost: ${EDGE_HOST}\n",
			"# token: ${HOOK_TOKEN:?set me}\nhost: edge-01\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExpandEnv(tt.input)
			if err != nil {
				t.Fatalf("ExpandEnv(%q) error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ExpandEnv(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestExpandEnv_RequiredMissing(t *testing.T) {
	t.Setenv("EMPTY_VAR", "")
	input := "notify:\n  url: ${HOOK_URL_UNSET:?webhook endpoint}\n  headers:\n    Authorization: Bearer ${EMPTY_VAR:?}\n"

	_, err := ExpandEnv(input)
	if err == nil {
		t.Fatal("expected error for missing required variables")
	}
	for _, want := range []string{"line 2", "HOOK_URL_UNSET", "webhook endpoint", "line 4", "EMPTY_VAR", "required"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestExpandEnv_NestedInYAML(t *testing.T) {
	t.Setenv("HOOK_HOST", "hooks.internal")
	t.Setenv("HOOK_TOKEN", "secret")

	input := `notify:
  url: https://${HOOK_HOST}/tagstream
  headers:
    Authorization: Bearer ${HOOK_TOKEN:?token}`

	got, err := ExpandEnv(input)
	if err != nil {
		t.Fatalf("ExpandEnv: %v", err)
	}
	want := `notify:
  url: https://hooks.internal/tagstream
  headers:
    Authorization: Bearer secret`

	if got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}
