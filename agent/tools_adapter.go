package agent

import (
	"strings"

	"github.com/quailyquaily/turnstile/llm"
)

// buildLLMTools renders an agent's callable surface for the model:
// its registered function tools followed by one synthetic function
// per handoff.
func buildLLMTools(ag *Agent) []llm.Tool {
	if ag == nil {
		return nil
	}

	var out []llm.Tool
	if ag.Tools != nil {
		for _, t := range ag.Tools.All() {
			name := strings.TrimSpace(t.Name())
			if name == "" {
				continue
			}
			out = append(out, llm.Tool{
				Name:           name,
				Description:    strings.TrimSpace(t.Description()),
				ParametersJSON: strings.TrimSpace(t.ParameterSchema()),
			})
		}
	}
	for _, h := range ag.Handoffs {
		name := h.name()
		if name == "" {
			continue
		}
		out = append(out, llm.Tool{
			Name:           name,
			Description:    h.description(),
			ParametersJSON: `{"type":"object","properties":{}}`,
		})
	}
	return out
}
