// Package deps implements the task dependency graph and its satisfaction
// semantics.
package deps

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/hollandt/warden/internal/model"
	wyaml "github.com/hollandt/warden/internal/yaml"
)

// StatusReader provides the current status of a task. Unknown tasks
// report not_started, which keeps edges to nonexistent tasks permanently
// unsatisfied for completion/success kinds.
type StatusReader interface {
	StatusOf(taskID string) (model.Status, error)
}

// Graph owns .warden/state/dependencies.yaml.
type Graph struct {
	mu       sync.Mutex
	path     string
	statuses StatusReader
}

func NewGraph(path string, statuses StatusReader) *Graph {
	return &Graph{path: path, statuses: statuses}
}

// Add appends a directed edge taskID → dependsOn. No validation is
// performed that dependsOn exists or that the edge closes a cycle; Lint
// reports both after the fact.
func (g *Graph) Add(taskID, dependsOn string, kind model.DependencyKind, description string) error {
	if taskID == "" || dependsOn == "" {
		return fmt.Errorf("dependency endpoints must not be empty")
	}
	if !model.IsValidDependencyKind(kind) {
		return fmt.Errorf("unknown dependency kind %q", kind)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	doc, err := g.load()
	if err != nil {
		return err
	}

	doc.Dependencies = append(doc.Dependencies, model.Dependency{
		TaskID:      taskID,
		DependsOn:   dependsOn,
		Kind:        kind,
		Description: description,
	})
	doc.DependencyGraph[taskID] = append(doc.DependencyGraph[taskID], dependsOn)

	return wyaml.AtomicWrite(g.path, doc)
}

// Edges returns the outgoing dependency edges of a task.
func (g *Graph) Edges(taskID string) ([]model.Dependency, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	doc, err := g.load()
	if err != nil {
		return nil, err
	}
	var out []model.Dependency
	for _, d := range doc.Dependencies {
		if d.TaskID == taskID {
			out = append(out, d)
		}
	}
	return out, nil
}

// Satisfied reports whether every outgoing edge of taskID is satisfied.
// Edges are conjunctive: one unsatisfied dependency fails the whole set.
func (g *Graph) Satisfied(taskID string) (bool, error) {
	edges, err := g.Edges(taskID)
	if err != nil {
		return false, err
	}

	for _, edge := range edges {
		status, err := g.statuses.StatusOf(edge.DependsOn)
		if err != nil {
			return false, fmt.Errorf("dependency %s → %s: %w", edge.TaskID, edge.DependsOn, err)
		}
		if !edgeSatisfied(edge.Kind, status) {
			return false, nil
		}
	}
	return true, nil
}

// success is currently evaluated exactly like completion. The upstream
// rule set carried the same duplication; do not collapse the two kinds
// without settling whether success was meant to also require a passing
// operation on the referenced task.
func edgeSatisfied(kind model.DependencyKind, status model.Status) bool {
	switch kind {
	case model.DependencyCompletion:
		return status == model.StatusCompleted
	case model.DependencySuccess:
		return status == model.StatusCompleted
	case model.DependencyStart:
		return status != model.StatusNotStarted
	default:
		return false
	}
}

// Dependents returns the tasks with an edge pointing at taskID.
func (g *Graph) Dependents(taskID string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	doc, err := g.load()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []string
	for _, d := range doc.Dependencies {
		if d.DependsOn == taskID && !seen[d.TaskID] {
			seen[d.TaskID] = true
			out = append(out, d.TaskID)
		}
	}
	return out, nil
}

// TransitiveDependents finds all tasks that transitively depend on taskID
// via BFS over the reverse graph.
func (g *Graph) TransitiveDependents(taskID string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	doc, err := g.load()
	if err != nil {
		return nil, err
	}

	dependents := make(map[string][]string)
	for _, d := range doc.Dependencies {
		dependents[d.DependsOn] = append(dependents[d.DependsOn], d.TaskID)
	}

	visited := make(map[string]bool)
	queue := []string{taskID}
	var result []string

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, dependent := range dependents[current] {
			if visited[dependent] {
				continue
			}
			visited[dependent] = true
			result = append(result, dependent)
			queue = append(queue, dependent)
		}
	}

	return result, nil
}

// Lint reports structural problems the graph tolerates at insertion
// time: edges to tasks the registry has never seen, and cycles. It never
// blocks; callers decide what to do with the report.
func (g *Graph) Lint() ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	doc, err := g.load()
	if err != nil {
		return nil, err
	}

	var issues []string

	for _, d := range doc.Dependencies {
		if !g.registered(d.DependsOn) {
			issues = append(issues, fmt.Sprintf("edge %s → %s targets an unregistered task", d.TaskID, d.DependsOn))
		}
	}

	issues = append(issues, findCycles(doc.DependencyGraph)...)
	sort.Strings(issues)
	return issues, nil
}

// registered probes whether the status reader knows the task beyond the
// not_started default.
func (g *Graph) registered(taskID string) bool {
	type getter interface {
		Get(taskID string) (model.TaskRecord, error)
	}
	if reg, ok := g.statuses.(getter); ok {
		_, err := reg.Get(taskID)
		return err == nil
	}
	return true
}

func findCycles(adjacency map[string][]string) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int)
	var issues []string

	var visit func(node string)
	visit = func(node string) {
		color[node] = gray
		for _, next := range adjacency[node] {
			switch color[next] {
			case white:
				visit(next)
			case gray:
				issues = append(issues, fmt.Sprintf("cycle detected through %s → %s", node, next))
			}
		}
		color[node] = black
	}

	nodes := make([]string, 0, len(adjacency))
	for node := range adjacency {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)
	for _, node := range nodes {
		if color[node] == white {
			visit(node)
		}
	}
	return issues
}

func (g *Graph) load() (*model.DependencyStore, error) {
	if _, err := os.Stat(g.path); os.IsNotExist(err) {
		return &model.DependencyStore{
			Version:         wyaml.CurrentSchemaVersion,
			FileType:        wyaml.FileTypeDependencyStore,
			DependencyGraph: make(map[string][]string),
		}, nil
	}

	var doc model.DependencyStore
	if err := wyaml.ReadDocument(g.path, wyaml.FileTypeDependencyStore, &doc); err != nil {
		return nil, err
	}
	if doc.DependencyGraph == nil {
		doc.DependencyGraph = make(map[string][]string)
	}
	return &doc, nil
}
