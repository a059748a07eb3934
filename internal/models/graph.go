package models

// GraphEntity is a node of the case knowledge graph.
type GraphEntity struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Properties map[string]string `json:"properties,omitempty"`
}

// GraphEdge is a typed, directed edge between two graph entities.
// A "doc_id" property ties the edge to the document it was extracted from.
type GraphEdge struct {
	Source     string            `json:"source"`
	Target     string            `json:"target"`
	Type       string            `json:"type"`
	Properties map[string]string `json:"properties,omitempty"`
}

// ExtractedEntity is an entity produced by a workflow phase, with the
// documents that mention it.
type ExtractedEntity struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Properties map[string]string `json:"properties,omitempty"`
	Docs       []string          `json:"docs,omitempty"`
}

// Extraction is the graph payload a workflow phase may return.
type Extraction struct {
	Entities  []ExtractedEntity `json:"entities,omitempty"`
	Relations []GraphEdge       `json:"relations,omitempty"`
}

// GraphDelta counts what an extraction added to the graph.
type GraphDelta struct {
	Nodes    int `json:"nodes"`
	Edges    int `json:"edges"`
	Mentions int `json:"mentions"`
}
