package sample

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/therealutkarshpriyadarshi/authlog/internal/aggregate"
	"github.com/therealutkarshpriyadarshi/authlog/internal/parser"
)

func fixedGenerator(seed int64) *Generator {
	g := New(seed)
	g.now = func() time.Time { return time.Date(2024, 2, 3, 12, 0, 0, 0, time.UTC) }
	return g
}

func TestGenerator_Deterministic(t *testing.T) {
	var a, b bytes.Buffer
	if err := fixedGenerator(42).Write(&a, 100); err != nil {
		t.Fatal(err)
	}
	if err := fixedGenerator(42).Write(&b, 100); err != nil {
		t.Fatal(err)
	}
	if a.String() != b.String() {
		t.Error("same seed produced different output")
	}
}

func TestGenerator_Shape(t *testing.T) {
	g := fixedGenerator(1)

	tests := []struct {
		i      int
		prefix string
		attack bool
	}{
		{0, "Feb 03 12:00:00 server1 sshd[1000]: ", false},
		{50, "Feb 03 12:00:00 server1 sshd[1050]: ", false},
		{51, "Feb 03 12:00:00 server1 sshd[1051]: Failed password for ", true},
		{79, "Feb 03 12:00:00 server1 sshd[1079]: Failed password for ", true},
		{80, "Feb 03 12:00:00 server1 sshd[1080]: ", false},
	}

	for _, tt := range tests {
		line := g.Line(tt.i)
		if !strings.HasPrefix(line, tt.prefix) {
			t.Errorf("Line(%d) = %q, want prefix %q", tt.i, line, tt.prefix)
		}
		if !strings.HasSuffix(line, " ssh2") {
			t.Errorf("Line(%d) = %q, want ssh2 suffix", tt.i, line)
		}
		if got := strings.Contains(line, " from "+AttackSource+" "); got != tt.attack {
			t.Errorf("Line(%d) from attack source = %v, want %v", tt.i, got, tt.attack)
		}
		if InAttack(tt.i) != tt.attack {
			t.Errorf("InAttack(%d) = %v", tt.i, InAttack(tt.i))
		}
	}
}

func TestGenerator_ParsesAndFlagsAttack(t *testing.T) {
	var buf bytes.Buffer
	if err := fixedGenerator(7).Write(&buf, 100); err != nil {
		t.Fatal(err)
	}

	p, err := parser.New()
	if err != nil {
		t.Fatal(err)
	}
	agg := aggregate.New(5)

	alerts := 0
	for _, line := range strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n") {
		evt, ok := p.Parse(line)
		if !ok {
			t.Fatalf("generated line did not parse: %q", line)
		}
		if alert, raised := agg.Ingest(evt); raised && alert.SourceAddress == AttackSource {
			alerts++
		}
	}

	if alerts != 1 {
		t.Errorf("alerts for %s = %d, want 1", AttackSource, alerts)
	}
	if got := agg.Failures(AttackSource); got != 29 {
		t.Errorf("failures from %s = %d, want 29", AttackSource, got)
	}
}
