// Package workflow executes the per-user workflows that turn one
// frontend request into one or more backend calls. Non-responder nodes
// run sequentially and publish their output as prompt variables; the
// responder node's output flows through the stream transformer back to
// the client.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/llmgate/LLMGateAPI/internal/backend"
	"github.com/llmgate/LLMGateAPI/internal/config"
	"github.com/llmgate/LLMGateAPI/internal/constant"
	"github.com/llmgate/LLMGateAPI/internal/interfaces"
	"github.com/llmgate/LLMGateAPI/internal/logging"
	"github.com/llmgate/LLMGateAPI/internal/transform"
)

// Engine implements interfaces.WorkflowRunner over the loaded catalog.
// The catalog pointer is swapped atomically on hot reload; a run keeps
// the snapshot it started with.
type Engine struct {
	cat    atomic.Pointer[config.Catalog]
	sender *backend.Sender
	locks  *LockStore
	reqlog *logging.RequestLogger
}

// NewEngine builds an Engine. locks and reqlog may be nil.
func NewEngine(cat *config.Catalog, sender *backend.Sender, locks *LockStore, reqlog *logging.RequestLogger) *Engine {
	e := &Engine{sender: sender, locks: locks, reqlog: reqlog}
	e.cat.Store(cat)
	return e
}

// ReloadCatalog swaps in a freshly loaded catalog. In-flight runs keep
// the snapshot they resolved at intake.
func (e *Engine) ReloadCatalog(cat *config.Catalog) {
	e.cat.Store(cat)
}

// HasWorkflow reports whether the active user has a workflow with the
// given name.
func (e *Engine) HasWorkflow(name string) bool {
	_, ok := e.cat.Load().Workflows[name]
	return ok
}

// Workflows lists the active user's workflow names in sorted order.
func (e *Engine) Workflows() []string {
	return e.cat.Load().WorkflowNames()
}

// Run executes the workflow for a non-streaming request.
func (e *Engine) Run(ctx context.Context, req *interfaces.Request) (string, error) {
	cat, wf, err := e.resolve(req)
	if err != nil {
		return "", err
	}
	release, err := e.lock(cat, wf)
	if err != nil {
		return "", err
	}
	defer release()

	vars, err := e.runPreNodes(ctx, req, cat, wf)
	if err != nil {
		return "", err
	}

	call, err := e.prepareResponder(req, cat, wf, vars)
	if err != nil {
		return "", err
	}
	text, err := e.sender.Complete(ctx, req.ID, call.handler, call.ep, call.conv, call.systemPrompt, call.prompt)
	if err != nil {
		return "", err
	}

	opts := transform.FromConfigs(req.APIKind, req.Model, req.ID, call.genPrompt, wf, call.ep, cat.UserCfg)
	text = transform.ApplyToText(opts, text)
	e.reqlog.Log(req, wf.Name, text)
	return text, nil
}

// RunStream executes the workflow for a streaming request. Pre-nodes
// still run non-streaming; only the responder's output streams. Items on
// the returned channel are fully framed for the request's frontend
// dialect.
func (e *Engine) RunStream(ctx context.Context, req *interfaces.Request) (<-chan []byte, <-chan error) {
	out := make(chan []byte, 16)
	errChan := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errChan)

		cat, wf, err := e.resolve(req)
		if err != nil {
			errChan <- err
			return
		}
		release, err := e.lock(cat, wf)
		if err != nil {
			errChan <- err
			return
		}
		defer release()

		vars, err := e.runPreNodes(ctx, req, cat, wf)
		if err != nil {
			errChan <- err
			return
		}

		call, err := e.prepareResponder(req, cat, wf, vars)
		if err != nil {
			errChan <- err
			return
		}

		opts := transform.FromConfigs(req.APIKind, req.Model, req.ID, call.genPrompt, wf, call.ep, cat.UserCfg)
		tr := transform.New(opts)

		streamOpts := backend.StreamOptions{
			StripAssistantPrefix: cat.UserCfg.AddUserAssistant && cat.UserCfg.AddMissingAssistant,
		}
		chunks, backendErrs := e.sender.Stream(ctx, req.ID, call.handler, call.ep, call.conv, call.systemPrompt, call.prompt, streamOpts)

		for chunk := range chunks {
			for _, frame := range tr.ProcessChunk(chunk) {
				select {
				case out <- []byte(frame):
				case <-ctx.Done():
					return
				}
			}
		}
		if err := <-backendErrs; err != nil {
			errChan <- err
			return
		}
		e.reqlog.Log(req, wf.Name, tr.FullResponseText())
	}()

	return out, errChan
}

// resolve picks the catalog snapshot and the workflow for a request: the
// request's override when set, the user's default otherwise.
func (e *Engine) resolve(req *interfaces.Request) (*config.Catalog, *config.WorkflowConfig, error) {
	cat := e.cat.Load()
	name := req.WorkflowOverride
	if name == "" {
		name = cat.UserCfg.DefaultWorkflow
	}
	wf, ok := cat.Workflows[name]
	if !ok {
		return nil, nil, &interfaces.ErrorMessage{
			StatusCode: http.StatusBadRequest,
			Err:        fmt.Errorf("unknown workflow %q", name),
		}
	}
	return cat, wf, nil
}

// lock claims the workflow's run lock when a lock store is configured.
func (e *Engine) lock(cat *config.Catalog, wf *config.WorkflowConfig) (func(), error) {
	if e.locks == nil {
		return func() {}, nil
	}
	release, err := e.locks.Acquire(cat.User, wf.Name)
	if err != nil {
		if errors.Is(err, ErrWorkflowBusy) {
			return nil, &interfaces.ErrorMessage{StatusCode: http.StatusTooManyRequests, Err: err}
		}
		return nil, err
	}
	return release, nil
}

// runPreNodes executes every node before the responder and collects
// their outputs into {agentNOutput} variables.
func (e *Engine) runPreNodes(ctx context.Context, req *interfaces.Request, cat *config.Catalog, wf *config.WorkflowConfig) (Vars, error) {
	vars := buildVars(req, cat.UserCfg)
	rIdx := responderIndex(wf)

	for i := 0; i < rIdx; i++ {
		node := &wf.Nodes[i]
		ep, h, err := e.nodeHandler(cat, node)
		if err != nil {
			return nil, err
		}
		systemPrompt := Expand(node.SystemPrompt, vars)
		prompt := Expand(node.Prompt, vars)
		if prompt == "" {
			prompt = vars["templated_user_prompt"]
		}

		text, err := e.sender.Complete(ctx, req.ID, h, ep, nil, systemPrompt, prompt)
		if err != nil {
			return nil, fmt.Errorf("workflow %s node %q: %w", wf.Name, node.Title, err)
		}
		vars[agentVar(i+1)] = text
		log.Debugf("request %s: node %q produced %d characters", req.ID, node.Title, len(text))
	}
	return vars, nil
}

// responderCall is the prepared backend call of the responder node.
type responderCall struct {
	handler      backend.Handler
	ep           *config.EndpointConfig
	conv         []interfaces.Message
	systemPrompt string
	prompt       string
	genPrompt    string
}

// prepareResponder resolves the responder node into a concrete backend
// call. Chat-dialect responders without an explicit prompt template
// receive the client conversation as-is; completion-dialect responders
// receive the flattened prompt.
func (e *Engine) prepareResponder(req *interfaces.Request, cat *config.Catalog, wf *config.WorkflowConfig, vars Vars) (*responderCall, error) {
	node := &wf.Nodes[responderIndex(wf)]
	ep, h, err := e.nodeHandler(cat, node)
	if err != nil {
		return nil, err
	}

	call := &responderCall{handler: h, ep: ep}
	systemPrompt := Expand(node.SystemPrompt, vars)

	switch {
	case node.Prompt != "":
		call.systemPrompt = systemPrompt
		call.prompt = Expand(node.Prompt, vars)
		call.genPrompt = generationPrompt(call.prompt)
	case isChatDialect(h.Dialect()):
		conv := conversationFor(req, cat.UserCfg)
		if systemPrompt != "" {
			conv = append([]interfaces.Message{{Role: "system", Content: systemPrompt}}, conv...)
		}
		call.conv = conv
	default:
		call.systemPrompt = systemPrompt
		call.prompt = vars["templated_user_prompt"]
		call.genPrompt = generationPrompt(call.prompt)
	}

	if hasImages(call.conv) {
		call.handler = backend.WithImages(call.handler)
	}
	return call, nil
}

// nodeHandler resolves a node's endpoint and dialect handler.
func (e *Engine) nodeHandler(cat *config.Catalog, node *config.WorkflowNode) (*config.EndpointConfig, backend.Handler, error) {
	ep, ok := cat.Endpoints[node.Endpoint]
	if !ok {
		return nil, nil, &interfaces.ErrorMessage{
			StatusCode: http.StatusInternalServerError,
			Err:        fmt.Errorf("node %q references unknown endpoint %q", node.Title, node.Endpoint),
		}
	}
	h, err := backend.NewHandler(cat, ep)
	if err != nil {
		return nil, nil, err
	}
	return ep, h, nil
}

// responderIndex finds the node whose output goes to the client: the
// first node marked return-to-user, or the last node.
func responderIndex(wf *config.WorkflowConfig) int {
	for i := range wf.Nodes {
		if wf.Nodes[i].ReturnToUser {
			return i
		}
	}
	return len(wf.Nodes) - 1
}

// isChatDialect reports whether a backend dialect takes a structured
// message list rather than a single prompt string.
func isChatDialect(dialect string) bool {
	return dialect == constant.BackendOpenAIChat || dialect == constant.BackendOllamaChat
}
