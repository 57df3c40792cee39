package agent

import (
	"encoding/json"

	"github.com/quailyquaily/turnstile/guard"
	"github.com/quailyquaily/turnstile/llm"
)

// runStateV1 is the serialized form of an interrupted run: everything
// needed to re-enter the loop at the same turn. Items carries the full
// log with the pending placeholders at the tail; Persisted and Rendered
// restore the flush and transcript high-water marks; LastOutput is the
// interrupted turn's model response, re-classified instead of re-asked
// on resumption.
type runStateV1 struct {
	Version int `json:"v"`

	RunID    string `json:"run_id"`
	Agent    string `json:"agent"`
	Turn     int    `json:"turn"`
	Task     string `json:"task"`
	MaxTurns int    `json:"max_turns"`

	Messages []llm.Message `json:"messages"`
	Items    []Item        `json:"items"`

	LastOutput []llm.OutputItem `json:"last_output,omitempty"`
	LastText   string           `json:"last_text,omitempty"`

	Persisted int `json:"persisted"`
	Rendered  int `json:"rendered"`

	ExtraParams map[string]any                 `json:"extra_params,omitempty"`
	Meta        map[string]any                 `json:"meta,omitempty"`
	Metrics     *Metrics                       `json:"metrics,omitempty"`
	Decisions   map[string]guard.DecisionState `json:"decisions,omitempty"`
}

func marshalRunState(st *loopState) ([]byte, error) {
	return json.Marshal(runStateV1{
		Version:     1,
		RunID:       st.runID,
		Agent:       st.agent.Name,
		Turn:        st.turn,
		Task:        st.agentCtx.Task,
		MaxTurns:    st.agentCtx.MaxTurns,
		Messages:    st.messages,
		Items:       st.items,
		LastOutput:  st.lastOutput,
		LastText:    st.lastText,
		Persisted:   st.persisted,
		Rendered:    st.rendered,
		ExtraParams: st.extraParams,
		Meta:        st.meta,
		Metrics:     st.agentCtx.Metrics,
		Decisions:   st.agentCtx.decisionsSnapshot(),
	})
}

func unmarshalRunState(b []byte) (runStateV1, error) {
	var rs runStateV1
	if err := json.Unmarshal(b, &rs); err != nil {
		return runStateV1{}, err
	}
	return rs, nil
}

// contextFromRunState rebuilds the run context, metrics and recorded
// approval decisions included.
func contextFromRunState(rs runStateV1) *Context {
	c := NewContext(rs.Task, rs.MaxTurns)
	if rs.Metrics != nil {
		c.Metrics = rs.Metrics
	}
	c.restoreDecisions(rs.Decisions)
	return c
}
