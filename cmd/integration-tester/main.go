// Command integration-tester launches `ontograph serve` as a subprocess and
// drives one construction session through the MCP tools, printing a JSON
// report. An embeddings provider must be configured in the environment.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/apptype"
)

type StepResult struct {
	Name      string `json:"name"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms"`
}

type Report struct {
	Command    string       `json:"command"`
	StartedAt  time.Time    `json:"started_at"`
	DurationMs int64        `json:"duration_ms"`
	Steps      []StepResult `json:"steps"`
	Passed     bool         `json:"passed"`
}

type runner struct {
	ctx     context.Context
	session *mcp.ClientSession
	steps   []StepResult
	failed  bool
}

// step records fn as a named step. Once a step fails the rest are skipped.
func (r *runner) step(name string, fn func() error) {
	res := StepResult{Name: name}
	if r.failed {
		res.Error = "skipped"
		r.steps = append(r.steps, res)
		return
	}
	t0 := time.Now()
	err := fn()
	res.ElapsedMs = time.Since(t0).Milliseconds()
	if err != nil {
		res.Error = err.Error()
		r.failed = true
	} else {
		res.Success = true
	}
	r.steps = append(r.steps, res)
}

// call invokes a tool and decodes the last text block into out when non-nil.
func (r *runner) call(name string, args map[string]any, out any) error {
	res, err := r.session.CallTool(r.ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return err
	}
	if len(res.Content) == 0 {
		return fmt.Errorf("%s returned no content", name)
	}
	text, _ := res.Content[len(res.Content)-1].(*mcp.TextContent)
	if res.IsError {
		first, _ := res.Content[0].(*mcp.TextContent)
		if first != nil {
			return errors.New(first.Text)
		}
		return fmt.Errorf("%s failed", name)
	}
	if out == nil || text == nil {
		return nil
	}
	return json.Unmarshal([]byte(text.Text), out)
}

func main() {
	bin := flag.String("bin", "ontograph", "ontograph binary to launch")
	dbURL := flag.String("libsql-url", "file:./integration.db", "libSQL database URL for the server")
	timeout := flag.Duration("timeout", 60*time.Second, "Overall timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	cmd := exec.Command(*bin, "--libsql-url", *dbURL, "serve")
	cmd.Stderr = os.Stderr
	client := mcp.NewClient(&mcp.Implementation{Name: "integration-tester", Version: "dev"}, nil)

	start := time.Now()
	report := Report{Command: cmd.String(), StartedAt: start}
	r := &runner{ctx: ctx}

	r.step("connect", func() error {
		s, err := client.Connect(ctx, mcp.NewCommandTransport(cmd))
		r.session = s
		return err
	})
	if r.session != nil {
		defer r.session.Close()
	}

	r.step("list_tools", func() error {
		res, err := r.session.ListTools(ctx, &mcp.ListToolsParams{})
		if err != nil {
			return err
		}
		if len(res.Tools) < 15 {
			return fmt.Errorf("expected 15 tools, got %d", len(res.Tools))
		}
		return nil
	})
	r.step("health_check", func() error { return r.call("health_check", map[string]any{}, nil) })
	r.step("get_entity_types", func() error { return r.call("get_entity_types", map[string]any{}, nil) })

	// A unique name keeps reruns against the same database from colliding.
	vendor := fmt.Sprintf("Integration Vendor %d", start.UnixNano())
	var st apptype.SessionStatus
	r.step("begin_session", func() error {
		return r.call("begin_session", map[string]any{
			"candidates": []map[string]any{{"type_name": "Vendor", "raw_name": vendor}},
		}, &st)
	})
	r.step("submit_decision", func() error {
		return r.call("submit_decision", map[string]any{"session_id": st.SessionID, "ref": "c1", "action": "create_new"}, &st)
	})
	r.step("supply_property", func() error {
		if st.Prompt == nil || st.Prompt.Kind != apptype.PromptPropertyRequest {
			return fmt.Errorf("expected a property request, got %+v", st.Prompt)
		}
		return r.call("supply_property", map[string]any{
			"session_id": st.SessionID, "ref": "c1", "name": st.Prompt.Property.Name, "value": "privacy@example.com",
		}, &st)
	})
	r.step("session_plan", func() error {
		var plan apptype.PlanSummary
		if err := r.call("session_plan", map[string]any{"session_id": st.SessionID}, &plan); err != nil {
			return err
		}
		if len(plan.Create) != 1 {
			return fmt.Errorf("expected one entity to create, got %d", len(plan.Create))
		}
		return nil
	})
	var manifest apptype.Manifest
	r.step("commit_session", func() error {
		return r.call("commit_session", map[string]any{"session_id": st.SessionID}, &manifest)
	})
	r.step("get_entity", func() error {
		if len(manifest.CreatedEntityIDs) != 1 {
			return fmt.Errorf("expected one created entity, got %d", len(manifest.CreatedEntityIDs))
		}
		return r.call("get_entity", map[string]any{"entity_id": manifest.CreatedEntityIDs[0]}, nil)
	})

	report.Steps = r.steps
	report.DurationMs = time.Since(start).Milliseconds()
	report.Passed = !r.failed

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(report)

	if !report.Passed {
		os.Exit(1)
	}
}
