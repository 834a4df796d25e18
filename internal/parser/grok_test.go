package parser

import (
	"strings"
	"testing"
)

func TestExpandGrokPattern(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		want    string
		wantErr bool
	}{
		{
			name:    "plain regex is untouched",
			pattern: `^foo\s+bar$`,
			want:    `^foo\s+bar$`,
		},
		{
			name:    "unnamed reference",
			pattern: `%{NOTSPACE}`,
			want:    `\S+`,
		},
		{
			name:    "named reference becomes capture group",
			pattern: `%{NOTSPACE:address}`,
			want:    `(?P<address>\S+)`,
		},
		{
			name:    "nested references",
			pattern: `%{SYSLOGSTAMP:ts}`,
			want:    `(?P<ts>\w{3}\s+\d{1,2}\s\d{2}:\d{2}:\d{2})`,
		},
		{
			name:    "unknown reference",
			pattern: `%{NOPE}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := expandGrokPattern(tt.pattern)
			if (err != nil) != tt.wantErr {
				t.Fatalf("expandGrokPattern() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got != tt.want {
				t.Errorf("expandGrokPattern() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCompileGrok(t *testing.T) {
	re, err := CompileGrok(`login %{DATA:user}@%{NOTSPACE:host} ok`)
	if err != nil {
		t.Fatalf("CompileGrok() error = %v", err)
	}

	match := re.FindStringSubmatch("login alice@10.1.2.3 ok")
	if match == nil {
		t.Fatal("Expected pattern to match")
	}
	if got := match[re.SubexpIndex("user")]; got != "alice" {
		t.Errorf("user = %q, want alice", got)
	}
	if got := match[re.SubexpIndex("host")]; got != "10.1.2.3" {
		t.Errorf("host = %q, want 10.1.2.3", got)
	}
}

func TestCompileGrok_InvalidRegex(t *testing.T) {
	if _, err := CompileGrok(`%{NOTSPACE}[unclosed`); err == nil {
		t.Error("Expected error for invalid expanded regex")
	}
}

func TestCompileNamedGrok(t *testing.T) {
	re, err := CompileNamedGrok("sshd_password")
	if err != nil {
		t.Fatalf("CompileNamedGrok() error = %v", err)
	}

	for _, field := range []string{"timestamp", "outcome", "account", "address"} {
		if re.SubexpIndex(field) < 0 {
			t.Errorf("sshd_password has no %q group", field)
		}
	}

	if strings.Contains(re.String(), "%{") {
		t.Errorf("pattern not fully expanded: %s", re.String())
	}

	if _, err := CompileNamedGrok("apache"); err == nil {
		t.Error("Expected error for unknown named pattern")
	}
}
