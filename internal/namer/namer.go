// Package namer generates short display names for workers.
package namer

import (
	"fmt"
	"math/rand/v2"
	"sync"
)

var adjectives = []string{
	"Amber", "Bold", "Brisk", "Calm", "Clever", "Cosmic", "Crisp", "Daring",
	"Eager", "Fleet", "Gentle", "Golden", "Hardy", "Jolly", "Keen", "Lively",
	"Lucky", "Mellow", "Nimble", "Noble", "Quiet", "Rapid", "Silver", "Steady",
	"Sunny", "Swift", "Tidy", "Vivid", "Wise", "Zesty",
}

var nouns = []string{
	"Badger", "Bear", "Crane", "Falcon", "Ferret", "Finch", "Fox", "Hare",
	"Hawk", "Heron", "Lynx", "Marten", "Moose", "Otter", "Owl", "Panda",
	"Puffin", "Raven", "Robin", "Salmon", "Seal", "Sparrow", "Stoat", "Swan",
	"Tiger", "Turtle", "Wolf", "Wren",
}

// Namer hands out names that are unique for its lifetime.
type Namer struct {
	mu   sync.Mutex
	rng  *rand.Rand
	used map[string]bool
}

// New returns a Namer seeded from the runtime's random source.
func New() *Namer {
	return NewSeeded(rand.Uint64())
}

// NewSeeded returns a deterministic Namer.
func NewSeeded(seed uint64) *Namer {
	return &Namer{
		rng:  rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		used: make(map[string]bool),
	}
}

// Next returns a fresh name such as "SwiftFox". Once random picks keep
// colliding a numeric suffix is added.
func (n *Namer) Next() string {
	n.mu.Lock()
	defer n.mu.Unlock()

	for i := 0; i < 32; i++ {
		name := adjectives[n.rng.IntN(len(adjectives))] + nouns[n.rng.IntN(len(nouns))]
		if !n.used[name] {
			n.used[name] = true
			return name
		}
	}
	base := adjectives[n.rng.IntN(len(adjectives))] + nouns[n.rng.IntN(len(nouns))]
	for i := 2; ; i++ {
		name := fmt.Sprintf("%s%d", base, i)
		if !n.used[name] {
			n.used[name] = true
			return name
		}
	}
}

// Reserve marks name as taken.
func (n *Namer) Reserve(name string) {
	n.mu.Lock()
	n.used[name] = true
	n.mu.Unlock()
}
