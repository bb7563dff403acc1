package construction

import (
	"context"
	"fmt"

	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/apperr"
	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/apptype"
)

// MaxAttempts is how often Run re-asks one prompt after invalid answers.
const MaxAttempts = 3

// Decider answers the prompts of a session. Any decision source can
// implement it: a person behind a UI, a rule engine or a language model.
type Decider interface {
	Decide(ctx context.Context, p apptype.MatchPrompt) (apptype.Decision, error)
	ProvideProperty(ctx context.Context, p apptype.PropertyRequest) (any, error)
	Approve(ctx context.Context, p apptype.RelationshipPrompt) (apptype.Approval, error)
	ConfirmPlan(ctx context.Context, p apptype.PlanSummary) (bool, error)
}

// Run drives one session for req to completion with d answering every
// prompt. Invalid answers are fed back through the prompt's problem text;
// after MaxAttempts invalid answers to one prompt the session is cancelled
// and the last error returned. Any other failure, a cancelled ctx or a
// declined plan also cancels the session, so Run never leaves one behind.
func Run(ctx context.Context, co *Coordinator, req apptype.SessionRequest, d Decider) (*apptype.Manifest, error) {
	st, err := co.Begin(ctx, req)
	if err != nil {
		if st != nil {
			co.Cancel(context.Background(), st.SessionID)
		}
		return nil, err
	}
	id := st.SessionID
	abort := func(err error) (*apptype.Manifest, error) {
		co.Cancel(context.Background(), id)
		if ctx.Err() != nil {
			return nil, apperr.Cancelled("session %s cancelled: %v", id, ctx.Err())
		}
		return nil, err
	}

	failures := map[string]int{}
	for {
		if ctx.Err() != nil {
			return abort(ctx.Err())
		}
		p, err := co.Next(ctx, id)
		if err != nil {
			return abort(err)
		}
		key := fmt.Sprintf("%s/%s", p.Kind, p.ItemRef)

		switch p.Kind {
		case apptype.PromptMatchDecision:
			var dec apptype.Decision
			if dec, err = d.Decide(ctx, *p.Match); err == nil {
				_, err = co.Decide(ctx, id, p.ItemRef, dec)
			}
		case apptype.PromptPropertyRequest:
			key += "/" + p.Property.Name
			var v any
			if v, err = d.ProvideProperty(ctx, *p.Property); err == nil {
				_, err = co.SupplyProperty(ctx, id, p.ItemRef, p.Property.Name, v)
			}
		case apptype.PromptRelationshipApproval:
			var a apptype.Approval
			if a, err = d.Approve(ctx, *p.Relationship); err == nil {
				_, err = co.Approve(ctx, id, p.ItemRef, a)
			}
		case apptype.PromptPlanConfirmation:
			ok, err := d.ConfirmPlan(ctx, *p.Plan)
			if err != nil {
				return abort(err)
			}
			if !ok {
				co.Cancel(context.Background(), id)
				return nil, apperr.Cancelled("plan for session %s was declined", id)
			}
			m, err := co.Commit(ctx, id)
			if err != nil {
				return abort(err)
			}
			return m, nil
		default:
			return abort(fmt.Errorf("session %s has nothing to decide: %s", id, p.Problem))
		}

		if err == nil {
			continue
		}
		if !apperr.IsItemScoped(err) {
			return abort(err)
		}
		failures[key]++
		if failures[key] >= MaxAttempts {
			return abort(fmt.Errorf("giving up on %s after %d attempts: %w", p.ItemRef, failures[key], err))
		}
	}
}
