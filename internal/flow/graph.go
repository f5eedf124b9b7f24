package flow

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

// DefaultLanguage is used for nodes that do not declare a language.
const DefaultLanguage = "en-US"

// ErrDuplicateNode is returned when two nodes share an id.
var ErrDuplicateNode = errors.New("duplicate node id")

// ErrDanglingTransition is returned when a transition targets a nonexistent node.
var ErrDanglingTransition = errors.New("transition target not found")

// ErrMissingRoot is returned when the designated root node does not exist.
var ErrMissingRoot = errors.New("root node not found")

// ErrNodeNotFound is returned by Get for an unknown node id.
var ErrNodeNotFound = errors.New("node not found")

// Node is a single position in the call flow: the prompt spoken when a call
// arrives here and the digit-keyed branches to successor nodes.
type Node struct {
	ID          string            `json:"id"`
	Prompt      string            `json:"prompt"`
	Language    string            `json:"language,omitempty"`
	Transitions map[string]string `json:"transitions,omitempty"`
}

// PromptLanguage returns the node's language, or DefaultLanguage if unset.
func (n *Node) PromptLanguage() string {
	if n.Language == "" {
		return DefaultLanguage
	}
	return n.Language
}

// flowFile is the serialized flow description shape.
type flowFile struct {
	Root  string `json:"root"`
	Nodes []Node `json:"nodes"`
}

// Graph is the parsed, validated call flow. It is immutable after Load and
// safe for concurrent readers.
type Graph struct {
	root  string
	nodes map[string]*Node
}

// Load parses a flow description and validates its structure: ids must be
// unique, every transition target must resolve, and the designated root must
// exist. Any violation is fatal; a partially valid graph is never returned.
func Load(r io.Reader) (*Graph, error) {
	var file flowFile
	if err := json.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("decoding flow description: %w", err)
	}

	if file.Root == "" {
		return nil, fmt.Errorf("flow description: %w: no root declared", ErrMissingRoot)
	}

	nodes := make(map[string]*Node, len(file.Nodes))
	for i := range file.Nodes {
		n := &file.Nodes[i]
		if n.ID == "" {
			return nil, fmt.Errorf("flow description: node %d has empty id", i)
		}
		if _, ok := nodes[n.ID]; ok {
			return nil, fmt.Errorf("flow description: %w: %q", ErrDuplicateNode, n.ID)
		}
		nodes[n.ID] = n
	}

	if _, ok := nodes[file.Root]; !ok {
		return nil, fmt.Errorf("flow description: %w: %q", ErrMissingRoot, file.Root)
	}

	for _, n := range nodes {
		for digit, target := range n.Transitions {
			if _, ok := nodes[target]; !ok {
				return nil, fmt.Errorf("flow description: %w: node %q digit %q -> %q",
					ErrDanglingTransition, n.ID, digit, target)
			}
		}
	}

	return &Graph{root: file.Root, nodes: nodes}, nil
}

// LoadFile loads and validates the flow description at path.
func LoadFile(path string) (*Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening flow description: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Get returns the node with the given id.
func (g *Graph) Get(id string) (*Node, error) {
	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNodeNotFound, id)
	}
	return n, nil
}

// Root returns the designated entry node.
func (g *Graph) Root() *Node {
	return g.nodes[g.root]
}

// Len returns the number of nodes in the graph.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Walk visits every node reachable from the root in depth-first order,
// calling fn once per node. Traversal is cycle-safe: successor references may
// form loops and each node is still visited exactly once. Walk stops early if
// fn returns an error.
func (g *Graph) Walk(fn func(*Node) error) error {
	visited := make(map[string]bool, len(g.nodes))
	return g.walk(g.root, visited, fn)
}

func (g *Graph) walk(id string, visited map[string]bool, fn func(*Node) error) error {
	if visited[id] {
		return nil
	}
	visited[id] = true

	n := g.nodes[id]
	if err := fn(n); err != nil {
		return err
	}
	for _, target := range n.Transitions {
		if err := g.walk(target, visited, fn); err != nil {
			return err
		}
	}
	return nil
}
