package pipeline

import "github.com/sarthakpati/pytorch-lightning-bolts/internal/pipeline/dag"

func checkAcyclic(graph DependencyGraph) error {
	_, err := dag.Build(graph)
	return err
}
