package upstream

import (
	"fmt"
	"math/rand/v2"
	"sync"
)

// Strategy picks the node to send the next RPC call to.
type Strategy interface {
	Next(nodes []string) string
	Name() string
}

func NewStrategy(name string) (Strategy, error) {
	switch name {
	case "round-robin", "round_robin", "":
		return &RoundRobin{}, nil
	case "random":
		return &Random{}, nil
	default:
		return nil, fmt.Errorf("unknown node selection strategy: %s", name)
	}
}

type RoundRobin struct {
	mu      sync.Mutex
	current int
}

func (r *RoundRobin) Next(nodes []string) string {
	if len(nodes) == 0 {
		return ""
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	node := nodes[r.current%len(nodes)]
	r.current++

	return node
}

func (r *RoundRobin) Name() string {
	return "round_robin"
}

type Random struct{}

func (Random) Next(nodes []string) string {
	if len(nodes) == 0 {
		return ""
	}
	return nodes[rand.IntN(len(nodes))]
}

func (Random) Name() string {
	return "random"
}
