package agents

import (
	"fmt"
	"strings"
)

// Rule sends prompts matching Match to the agent with id Target.
// Match receives the prompt already lower-cased and returns the keyword
// that triggered it, if any.
type Rule struct {
	Target string
	Match  func(lowered string) (keyword string, ok bool)
}

// KeywordRule matches when any keyword occurs as a substring.
func KeywordRule(target string, keywords ...string) Rule {
	return Rule{
		Target: target,
		Match: func(lowered string) (string, bool) {
			for _, kw := range keywords {
				if strings.Contains(lowered, kw) {
					return kw, true
				}
			}
			return "", false
		},
	}
}

// DefaultRules is the fixed rule order: generation intent wins over recall
// intent, so "create a memory of..." goes to flux.
var DefaultRules = []Rule{
	KeywordRule(FluxID, "generate", "image", "picture", "create", "draw"),
	KeywordRule(MemoryID, "remember", "recall", "memory", "stored", "previous"),
}

// Decision is the router's verdict on one prompt.
type Decision struct {
	Agent   Agent
	Keyword string
}

// Reasoning describes why the agent was chosen.
func (d Decision) Reasoning() string {
	if d.Keyword == "" {
		return fmt.Sprintf("Request matched %s agent criteria", d.Agent.ID)
	}
	return fmt.Sprintf("Request matched %s agent criteria (keyword %q)", d.Agent.ID, d.Keyword)
}

// Router maps prompts to agents with an ordered rule list. The first
// matching rule wins and unmatched prompts go to the fallback agent.
type Router struct {
	rules    []Rule
	fallback string
}

// NewRouter returns a router over rules. With no rules it uses DefaultRules.
func NewRouter(rules ...Rule) *Router {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	return &Router{rules: rules, fallback: ClairID}
}

// Route picks the agent for prompt. It never fails.
func (r *Router) Route(prompt string) Agent {
	return r.Classify(prompt).Agent
}

// Classify picks the agent for prompt and records the keyword that decided it.
func (r *Router) Classify(prompt string) Decision {
	lowered := strings.ToLower(prompt)
	for _, rule := range r.rules {
		kw, ok := rule.Match(lowered)
		if !ok {
			continue
		}
		if a, found := Lookup(rule.Target); found {
			return Decision{Agent: a, Keyword: kw}
		}
	}
	return Decision{Agent: r.fallbackAgent()}
}

func (r *Router) fallbackAgent() Agent {
	if a, ok := Lookup(r.fallback); ok {
		return a
	}
	return Default()
}

// Route classifies prompt with the default rules.
func Route(prompt string) Agent {
	return defaultRouter.Route(prompt)
}

var defaultRouter = NewRouter()
