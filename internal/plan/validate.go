package plan

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/animus-labs/animus-orchestrator/internal/domain"
	"github.com/animus-labs/animus-orchestrator/internal/orchestration/registry"
)

// ParameterValidator is implemented by steps and advisers that can check
// their parameters before a plan runs.
type ParameterValidator interface {
	ValidateParameters(raw json.RawMessage) error
}

// ChildReferencer is implemented by steps whose parameters name other nodes
// of the plan.
type ChildReferencer interface {
	ReferencedNodes(raw json.RawMessage) ([]string, error)
}

// Validate resolves every type the plan names and checks all parameters it
// can. Every problem found is reported, joined.
func Validate(p domain.Plan, regs registry.Registries) error {
	if err := checkStructure(p); err != nil {
		return err
	}
	var errs []error
	for i, node := range p.Nodes {
		prefix := fmt.Sprintf("plan.nodes[%d]", i)

		s, err := regs.Steps.Resolve(node.StepType)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s.stepType: %w", prefix, err))
		} else {
			if v, ok := s.(ParameterValidator); ok {
				if err := v.ValidateParameters(node.StepParameters); err != nil {
					errs = append(errs, fmt.Errorf("%s.stepParameters: %w", prefix, err))
				}
			}
			if r, ok := s.(ChildReferencer); ok {
				refs, err := r.ReferencedNodes(node.StepParameters)
				if err != nil {
					errs = append(errs, fmt.Errorf("%s.stepParameters: %w", prefix, err))
				}
				for _, ref := range refs {
					if _, ok := p.FetchNode(ref); !ok {
						errs = append(errs, fmt.Errorf("%s.stepParameters: node %q is not in the plan", prefix, ref))
					}
				}
			}
		}

		for j, f := range node.FacilitatorObtainments {
			if _, err := regs.Facilitators.Resolve(f.Type); err != nil {
				errs = append(errs, fmt.Errorf("%s.facilitatorObtainments[%d]: %w", prefix, j, err))
			}
		}

		for j, a := range node.AdviserObtainments {
			field := fmt.Sprintf("%s.adviserObtainments[%d]", prefix, j)
			adv, err := regs.Advisers.Resolve(a.Type)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", field, err))
				continue
			}
			if v, ok := adv.(ParameterValidator); ok {
				if err := v.ValidateParameters(a.Parameters); err != nil {
					errs = append(errs, fmt.Errorf("%s.parameters: %w", field, err))
					continue
				}
			}
			if next := nextNodeID(a.Parameters); next != "" {
				if _, ok := p.FetchNode(next); !ok {
					errs = append(errs, fmt.Errorf("%s.parameters.nextNodeId: node %q is not in the plan", field, next))
				}
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidPlan, errors.Join(errs...))
	}
	return nil
}

func nextNodeID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var params struct {
		NextNodeID string `json:"nextNodeId"`
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return ""
	}
	return params.NextNodeID
}
