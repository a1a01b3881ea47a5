// Package agents holds the static agent catalog and the keyword router that
// picks which agent handles a prompt.
package agents

import "slices"

// ToolName identifies a capability an agent may use.
type ToolName string

const (
	ToolMemory     ToolName = "memory"
	ToolRouter     ToolName = "router"
	ToolAgents     ToolName = "agents"
	ToolFluxClient ToolName = "fluxClient"
)

// Agent IDs in the catalog.
const (
	FluxID   = "flux"
	ClairID  = "clair"
	MemoryID = "memory"
)

// Agent is a statically configured behavior profile.
type Agent struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Route       string     `json:"route"`
	Tools       []ToolName `json:"tools"`
	Goals       []string   `json:"goals"`
	Active      bool       `json:"active"`
}

// HasTool reports whether the agent is allowed to use tool.
func (a Agent) HasTool(tool ToolName) bool {
	return slices.Contains(a.Tools, tool)
}

var catalog = []Agent{
	{
		ID:          FluxID,
		Name:        "Flux Generator",
		Description: "Generates images or creative outputs using the Flux model.",
		Route:       "/flux",
		Tools:       []ToolName{ToolFluxClient},
		Goals:       []string{"visual synthesis", "creative prompts"},
		Active:      true,
	},
	{
		ID:          ClairID,
		Name:        "Clair Core",
		Description: "The master logic, routing, and memory core.",
		Route:       "/agents/ctrl",
		Tools:       []ToolName{ToolMemory, ToolRouter, ToolAgents},
		Goals:       []string{"user alignment", "command interpretation", "agent delegation"},
		Active:      true,
	},
	{
		ID:          MemoryID,
		Name:        "Memory Agent",
		Description: "Manages and retrieves from the memory store.",
		Route:       "/memory",
		Tools:       []ToolName{ToolMemory},
		Goals:       []string{"information retrieval", "context management"},
		Active:      true,
	},
}

// Catalog returns a copy of every configured agent.
func Catalog() []Agent {
	out := make([]Agent, len(catalog))
	for i, a := range catalog {
		out[i] = a.clone()
	}
	return out
}

// Lookup finds an agent by id.
func Lookup(id string) (Agent, bool) {
	for _, a := range catalog {
		if a.ID == id {
			return a.clone(), true
		}
	}
	return Agent{}, false
}

// Default returns the catch-all agent.
func Default() Agent {
	a, _ := Lookup(ClairID)
	return a
}

func (a Agent) clone() Agent {
	a.Tools = slices.Clone(a.Tools)
	a.Goals = slices.Clone(a.Goals)
	return a
}
