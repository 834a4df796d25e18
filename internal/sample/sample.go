// Package sample writes synthetic sshd authentication logs for trying out
// the scanner.
package sample

import (
	"bufio"
	"fmt"
	"io"
	"math/rand"
	"time"
)

// AttackSource is the address that produces the simulated burst of failures
const AttackSource = "10.0.0.99"

// Lines strictly between these indexes belong to the attack burst
const (
	attackAfter  = 50
	attackBefore = 80
)

var (
	addresses = []string{"192.168.1.15", "103.25.12.8", "172.16.0.5", "110.12.45.9"}
	accounts  = []string{"ritam", "admin", "root", "guest", "deploy"}
	statuses  = []string{"Accepted password for", "Failed password for"}
)

// Generator produces deterministic output for a given seed and clock
type Generator struct {
	rng *rand.Rand
	now func() time.Time
}

// New creates a generator seeded with seed
func New(seed int64) *Generator {
	return &Generator{
		rng: rand.New(rand.NewSource(seed)),
		now: time.Now,
	}
}

// InAttack reports whether line i is part of the attack burst
func InAttack(i int) bool {
	return i > attackAfter && i < attackBefore
}

// Line returns the i-th log line without a trailing newline
func (g *Generator) Line(i int) string {
	stamp := g.now().Format("Jan 02 15:04:05")
	addr := addresses[g.rng.Intn(len(addresses))]
	account := accounts[g.rng.Intn(len(accounts))]

	var status string
	if InAttack(i) {
		status = "Failed password for"
		addr = AttackSource
	} else {
		status = statuses[g.rng.Intn(len(statuses))]
	}

	port := 30000 + g.rng.Intn(30001)
	return fmt.Sprintf("%s server1 sshd[%d]: %s %s from %s port %d ssh2", stamp, 1000+i, status, account, addr, port)
}

// Write writes n lines to w
func (g *Generator) Write(w io.Writer, n int) error {
	bw := bufio.NewWriter(w)
	for i := 0; i < n; i++ {
		if _, err := bw.WriteString(g.Line(i) + "\n"); err != nil {
			return fmt.Errorf("failed to write sample line %d: %w", i, err)
		}
	}
	return bw.Flush()
}
