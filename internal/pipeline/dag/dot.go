package dag

import (
	"fmt"
	"io"
	"sort"
	"text/template"
	"time"

	"github.com/pkg/errors"
	colors "gopkg.in/go-playground/colors.v1"
)

// Graphviz fill colors per job status.
const (
	fillPending   = "white"
	fillRunning   = "khaki"
	fillSucceeded = "palegreen"
	fillFailed    = "lightcoral"
	fillSkipped   = "lightgrey"
	fillBlocked   = "lightsteelblue"
)

const maxRGB = 240

// SetStatus colors a node by job status in the rendered graph.
func (g *Graph) SetStatus(node, status string) error {
	_, properties, err := g.inner.VertexWithProperties(node)
	if err != nil {
		return errors.Wrapf(err, "unable to get vertex properties for %s", node)
	}
	properties.Attributes["style"] = "filled"
	properties.Attributes["fillcolor"] = statusFill(status)
	return nil
}

// SetDuration annotates a node with its job's elapsed time.
func (g *Graph) SetDuration(node string, elapsed time.Duration) error {
	_, properties, err := g.inner.VertexWithProperties(node)
	if err != nil {
		return errors.Wrapf(err, "unable to get vertex properties for %s", node)
	}
	properties.Attributes["xlabel"] = elapsed.Round(time.Millisecond).String()
	return nil
}

// ApplyHeat outlines each node on a blue-to-red ramp scaled by its job's
// elapsed time, so the slowest job reads hottest.
func (g *Graph) ApplyHeat(durations map[string]time.Duration) error {
	var minValue, maxValue time.Duration
	first := true
	for _, elapsed := range durations {
		if elapsed == 0 {
			continue
		}
		if first || elapsed < minValue {
			minValue = elapsed
		}
		if first || elapsed > maxValue {
			maxValue = elapsed
		}
		first = false
	}
	if first {
		return nil
	}

	for node, elapsed := range durations {
		if elapsed == 0 {
			continue
		}
		fraction := 1.0
		if maxValue > minValue {
			fraction = float64(elapsed-minValue) / float64(maxValue-minValue)
		}

		red := maxRGB * fraction
		blue := -maxRGB*fraction + maxRGB

		heat, err := colors.RGB(uint8(red), 0, uint8(blue))
		if err != nil {
			return errors.Wrap(err, "unable to get colour")
		}

		_, properties, err := g.inner.VertexWithProperties(node)
		if err != nil {
			return errors.Wrapf(err, "unable to get vertex properties for %s", node)
		}
		properties.Attributes["color"] = heat.ToHEX().String()
		properties.Attributes["penwidth"] = "2"
	}
	return nil
}

func statusFill(status string) string {
	switch status {
	case "running":
		return fillRunning
	case "succeeded":
		return fillSucceeded
	case "failed":
		return fillFailed
	case "skipped":
		return fillSkipped
	case "blocked":
		return fillBlocked
	default:
		return fillPending
	}
}

//nolint:lll //this is a template
const dotTemplate = `strict {{.GraphType}} {
	{{range $k, $v := .Attributes}}
		{{$k}}="{{$v}}";
	{{end}}
	{{range $s := .Statements}}
		"{{.Source}}" {{if .Target}}{{$.EdgeOperator}} "{{.Target}}" [ {{range $k, $v := .EdgeAttributes}}{{$k}}="{{$v}}", {{end}} weight={{.EdgeWeight}} ]{{else}}[ {{range $k, $v := .HTMLAttributes}}{{$k}}={{$v}}, {{end}} {{range $k, $v := .SourceAttributes}}{{$k}}="{{$v}}", {{end}} weight={{.SourceWeight}} ]{{end}};
	{{end}}
	}
	`

type description struct {
	GraphType    string
	Attributes   map[string]string
	EdgeOperator string
	Statements   []statement
}

type statement struct {
	Source           interface{}
	Target           interface{}
	SourceAttributes map[string]string
	HTMLAttributes   map[string]string
	EdgeAttributes   map[string]string
	SourceWeight     int
	EdgeWeight       int
}

// GraphAttribute is a functional option for [Graph.RenderDOT].
func GraphAttribute(key, value string) func(*description) {
	return func(d *description) {
		d.Attributes[key] = value
	}
}

// RenderDOT writes the graph in Graphviz DOT form.
func (g *Graph) RenderDOT(wrt io.Writer, options ...func(*description)) error {
	desc, err := g.generateDOT(options...)
	if err != nil {
		return fmt.Errorf("failed to generate DOT description: %w", err)
	}
	return renderDOT(wrt, desc)
}

func (g *Graph) generateDOT(options ...func(*description)) (description, error) {
	desc := description{
		GraphType:    "digraph",
		Attributes:   map[string]string{"rankdir": "LR"},
		EdgeOperator: "->",
		Statements:   make([]statement, 0),
	}

	for _, option := range options {
		option(&desc)
	}

	adjacencyMap, err := g.inner.AdjacencyMap()
	if err != nil {
		return desc, errors.Wrap(err, "unable to get adjacency map")
	}

	for _, vertex := range g.nodes {
		_, sourceProperties, err := g.inner.VertexWithProperties(vertex)
		if err != nil {
			return desc, errors.Wrap(err, "unable to get vertex properties")
		}

		sourceAttributes := make(map[string]string, len(sourceProperties.Attributes))
		for key, value := range sourceProperties.Attributes {
			sourceAttributes[key] = value
		}

		htmlAttributes := make(map[string]string)
		if xlabel, ok := sourceAttributes["xlabel"]; ok {
			htmlAttributes["label"] = fmt.Sprintf(`<%+v <BR /> <FONT POINT-SIZE="12">%s</FONT>>`, vertex, xlabel)
			delete(sourceAttributes, "xlabel")
		}

		desc.Statements = append(desc.Statements, statement{
			Source:           vertex,
			SourceWeight:     sourceProperties.Weight,
			SourceAttributes: sourceAttributes,
			HTMLAttributes:   htmlAttributes,
		})

		targets := make([]string, 0, len(adjacencyMap[vertex]))
		for adjacency := range adjacencyMap[vertex] {
			targets = append(targets, adjacency)
		}
		sort.Strings(targets)

		for _, adjacency := range targets {
			edge := adjacencyMap[vertex][adjacency]
			desc.Statements = append(desc.Statements, statement{
				Source:         vertex,
				Target:         adjacency,
				EdgeWeight:     edge.Properties.Weight,
				EdgeAttributes: edge.Properties.Attributes,
			})
		}
	}

	return desc, nil
}

func renderDOT(wrt io.Writer, desc description) error {
	tpl, err := template.New("dotTemplate").Parse(dotTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}

	err = tpl.Execute(wrt, desc)
	if err != nil {
		return errors.Wrap(err, "unable to execute template")
	}

	return nil
}
