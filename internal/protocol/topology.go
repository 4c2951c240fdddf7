package protocol

import "fmt"

// Topology selects which frame format a canvas session speaks. Single and
// multiplex are separate protocol versions; one session never mixes them.
type Topology string

const (
	// TopologySingle carries one composite buffer per Single Frame.
	TopologySingle Topology = "single"
	// TopologyMultiplex carries every painter's buffer, keyed by identity.
	TopologyMultiplex Topology = "multiplex"
)

// ParseTopology validates a topology name.
func ParseTopology(s string) (Topology, error) {
	switch t := Topology(s); t {
	case TopologySingle, TopologyMultiplex:
		return t, nil
	}
	return "", fmt.Errorf("unknown topology %q (want single or multiplex)", s)
}
