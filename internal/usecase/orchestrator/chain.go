package orchestrator

import (
	"fmt"
	"strings"

	"ppi-control/internal/domain"
)

// AnyAgent as an edge target accepts every routable agent.
const AnyAgent domain.AgentID = "*"

// Edge declares that handling Action on Agent may emit FollowUp to Target.
type Edge struct {
	Agent    domain.AgentID
	Action   domain.ActionName
	Target   domain.AgentID
	FollowUp domain.ActionName
}

type step struct {
	agent  domain.AgentID
	action domain.ActionName
}

func (s step) String() string { return string(s.agent) + " " + string(s.action) }

// chainTable lists every synchronous follow-up an agent may emit.
var chainTable = []Edge{
	{domain.AgentLeader, domain.ActionTaskCreate, domain.AgentMessenger, domain.ActionNotify},
	{domain.AgentLeader, domain.ActionTaskAssign, AnyAgent, domain.ActionTaskAssigned},
	{domain.AgentLeader, domain.ActionDeadlineScan, domain.AgentMessenger, domain.ActionAlert},
	{domain.AgentFinancial, domain.ActionPaymentRegister, domain.AgentCompliance, domain.ActionPaymentVerify},
	{domain.AgentFinancial, domain.ActionGlosaDetect, domain.AgentCompliance, domain.ActionGlosaRisk},
	{domain.AgentCompliance, domain.ActionPaymentVerify, domain.AgentMessenger, domain.ActionAlert},
	{domain.AgentDailyFeed, domain.ActionFeedSend, domain.AgentDatabase, domain.ActionDataStore},
	{domain.AgentSpreadsheet, domain.ActionSpreadsheetDeliver, domain.AgentDatabase, domain.ActionDataStore},
}

func init() {
	if err := checkAcyclic(chainTable); err != nil {
		panic(err)
	}
}

// ChainTable returns a copy of the declared follow-up edges.
func ChainTable() []Edge {
	out := make([]Edge, len(chainTable))
	copy(out, chainTable)
	return out
}

// declared reports whether (agent, action) may emit followUp to target.
// An AnyAgent edge matches every target.
func declared(edges []Edge, agent domain.AgentID, action domain.ActionName, target domain.AgentID, followUp domain.ActionName) bool {
	for _, e := range edges {
		if e.Agent != agent || e.Action != action || e.FollowUp != followUp {
			continue
		}
		if e.Target == target || e.Target == AnyAgent {
			return true
		}
	}
	return false
}

// successors expands AnyAgent targets into one step per routable agent.
func successors(edges []Edge, from step) []step {
	var out []step
	for _, e := range edges {
		if e.Agent != from.agent || e.Action != from.action {
			continue
		}
		if e.Target == AnyAgent {
			for _, id := range domain.Agents {
				out = append(out, step{id, e.FollowUp})
			}
			continue
		}
		out = append(out, step{e.Target, e.FollowUp})
	}
	return out
}

// checkAcyclic returns an error naming the first cycle found in edges.
func checkAcyclic(edges []Edge) error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[step]int)
	var path []step

	var visit func(s step) error
	visit = func(s step) error {
		switch state[s] {
		case visiting:
			names := make([]string, 0, len(path)+1)
			for _, p := range path {
				names = append(names, p.String())
			}
			names = append(names, s.String())
			return fmt.Errorf("chain table has a cycle: %s", strings.Join(names, " -> "))
		case done:
			return nil
		}
		state[s] = visiting
		path = append(path, s)
		for _, next := range successors(edges, s) {
			if err := visit(next); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		state[s] = done
		return nil
	}

	for _, e := range edges {
		if err := visit(step{e.Agent, e.Action}); err != nil {
			return err
		}
	}
	return nil
}
