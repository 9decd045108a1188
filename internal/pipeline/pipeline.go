// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package pipeline implements the message pipeline: it accepts inbound
// content addressed to a mind, persists it, consults the token budget,
// forwards it to the mind's HTTP endpoint, and relays the mind's
// streaming NDJSON response back to the caller while accumulating
// usage, activity and conversation state. The read loop follows
// internal/service/process.go's captureOutput idiom, generalized from
// a subprocess pipe to an HTTP child response body.
package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/volute-run/voluted/internal/activity"
	"github.com/volute-run/voluted/internal/budget"
	"github.com/volute-run/voluted/internal/eventbus"
	"github.com/volute-run/voluted/internal/mind"
	"github.com/volute-run/voluted/internal/scheduler"
	"github.com/volute-run/voluted/internal/store"
)

// maxLineSize bounds a single NDJSON event line from a mind's response.
const maxLineSize = 4 * 1024 * 1024

// Request is the decoded body of POST /api/minds/:name/message.
type Request struct {
	Content []store.ContentBlock `json:"content"`
	Channel string                `json:"channel"`
	Sender  string                `json:"sender"`
}

// mindEvent is one NDJSON line emitted by a mind's /message response.
type mindEvent struct {
	Type         string `json:"type"`
	Content      string `json:"content,omitempty"`
	Name         string `json:"name,omitempty"`
	Input        any    `json:"input,omitempty"`
	MediaType    string `json:"media_type,omitempty"`
	Data         string `json:"data,omitempty"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
}

// ErrQueued is returned by Accept (and so by Deliver) when the mind's
// token budget is exceeded and the message was enqueued rather than
// forwarded.
var ErrQueued = errors.New("pipeline: budget exceeded, message queued")

// ErrMindNotRunning is returned when the mind's child process refuses
// the connection.
var ErrMindNotRunning = errors.New("pipeline: mind not running")

// Pipeline wires the message pipeline's dependencies together.
type Pipeline struct {
	store    *store.Store
	budget   *budget.Manager
	activity *activity.Tracker
	bus      *eventbus.Bus
	resolver mind.Resolver
	client   *http.Client
}

// New creates a Pipeline.
func New(db *store.Store, budgetMgr *budget.Manager, tracker *activity.Tracker, bus *eventbus.Bus, resolver mind.Resolver) *Pipeline {
	return &Pipeline{
		store:    db,
		budget:   budgetMgr,
		activity: tracker,
		bus:      bus,
		resolver: resolver,
		client:   &http.Client{}, // no timeout: this is a long-lived stream
	}
}

// Accept persists the inbound message and gates it on the mind's token
// budget. It returns ErrQueued (with the message already enqueued) if
// the mind's budget is exceeded; the caller should respond 202 without
// calling Forward. Otherwise req is returned, possibly with a
// budget-warning block appended, ready to pass to Forward.
func (p *Pipeline) Accept(mindName string, req Request) (Request, error) {
	contentJSON, err := json.Marshal(req.Content)
	if err != nil {
		return req, fmt.Errorf("pipeline: marshal content: %w", err)
	}

	if _, err := p.store.RecordHistory(store.HistoryEntry{
		Mind:    mindName,
		Channel: req.Channel,
		Sender:  nonEmpty(req.Sender),
		Type:    store.HistoryInbound,
		Content: contentJSON,
	}); err != nil {
		log.Printf("pipeline: %s: record inbound history: %v", mindName, err)
	}

	if isVoluteChannel(req.Channel) {
		c, err := p.store.GetChannelByName(req.Channel)
		if err == nil {
			var sender *string
			if req.Sender != "" {
				sender = &req.Sender
			}
			if _, err := p.store.AddMessage(c.ID, store.MessageRoleUser, sender, contentJSON); err != nil {
				log.Printf("pipeline: %s: persist inbound message: %v", mindName, err)
			} else {
				p.bus.Publish("message", mindName, "")
			}
		}
	}

	switch p.budget.CheckBudget(mindName) {
	case budget.GateExceeded:
		p.budget.Enqueue(mindName, budget.QueuedMessage{
			Channel: req.Channel,
			Sender:  req.Sender,
			Content: contentJSON,
			Queued:  time.Now(),
		})
		return req, ErrQueued
	case budget.GateWarning:
		req.Content = append(req.Content, store.ContentBlock{
			Type: store.ContentText,
			Text: "[system] token budget warning: conserve output where possible.",
		})
		p.budget.AcknowledgeWarning(mindName)
	}

	return req, nil
}

// Connect opens the upstream request to mindName's child process and
// returns its response, ready to be streamed by Stream. Callers that
// need to pick an HTTP status code before writing their own response
// header (a real child connection failure should surface as 503, not
// an in-band NDJSON error line) should call Connect then Stream
// instead of Forward.
func (p *Pipeline) Connect(ctx context.Context, mindName string, req Request) (*http.Response, *store.Conversation, error) {
	var conv *store.Conversation
	if isVoluteChannel(req.Channel) {
		if c, err := p.store.GetChannelByName(req.Channel); err == nil {
			conv = &c
		}
	}

	target, err := p.resolver.Resolve(mindName)
	if err != nil {
		return nil, conv, fmt.Errorf("%w: %s", ErrMindNotRunning, mindName)
	}

	upstreamBody, err := json.Marshal(req)
	if err != nil {
		return nil, conv, fmt.Errorf("pipeline: marshal upstream request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("http://127.0.0.1:%d/message", target.Port), bytes.NewReader(upstreamBody))
	if err != nil {
		return nil, conv, fmt.Errorf("pipeline: build upstream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, conv, fmt.Errorf("%w: %s: %v", ErrMindNotRunning, mindName, err)
	}
	return resp, conv, nil
}

// Stream relays resp's NDJSON body to w verbatim, accumulating it into
// a persisted assistant message. The caller owns resp.Body and must not
// close it beforehand.
func (p *Pipeline) Stream(ctx context.Context, mindName string, conv *store.Conversation, resp *http.Response, w io.Writer, flush func()) error {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(w, resp.Body)
		return fmt.Errorf("pipeline: %s: upstream status %d", mindName, resp.StatusCode)
	}

	return p.relay(ctx, mindName, conv, resp.Body, w, flush)
}

// Forward connects to mindName's child process and streams its NDJSON
// response to w in one call. Prefer Connect+Stream when the caller
// needs to choose an HTTP status before writing headers.
func (p *Pipeline) Forward(ctx context.Context, mindName string, req Request, w io.Writer, flush func()) error {
	resp, conv, err := p.Connect(ctx, mindName, req)
	if err != nil {
		return err
	}
	return p.Stream(ctx, mindName, conv, resp, w, flush)
}

// Deliver is a convenience wrapper composing Accept and Forward for
// callers (tests, non-HTTP connectors) that don't need to distinguish
// the queued case before streaming begins.
func (p *Pipeline) Deliver(ctx context.Context, mindName string, req Request, w io.Writer, flush func()) error {
	req, err := p.Accept(mindName, req)
	if err != nil {
		return err
	}
	return p.Forward(ctx, mindName, req, w, flush)
}

// DeliverSystemMessage implements mind.ContextDeliverer: it delivers a
// single system-channel message to a freshly (re)started mind,
// discarding its NDJSON response (the caller only cares that the mind
// was told why it came back up).
func (p *Pipeline) DeliverSystemMessage(mindName string, content string) error {
	req := Request{
		Content: []store.ContentBlock{{Type: store.ContentText, Text: content}},
		Channel: "system:restart",
		Sender:  "daemon",
	}
	return p.Deliver(context.Background(), mindName, req, io.Discard, func() {})
}

// SchedulerDeliverer adapts a Pipeline to scheduler.Deliverer: Deliver
// and scheduler.Deliverer.Deliver can't share one method name on
// Pipeline itself since the signatures differ, so fired schedules are
// routed through this thin wrapper instead.
type SchedulerDeliverer struct {
	Pipeline *Pipeline
}

// Deliver implements scheduler.Deliverer: it injects a fired schedule's
// message into its mind on the system:scheduler channel, discarding the
// NDJSON response and logging rather than propagating any delivery
// error, since nothing is waiting on a scheduler tick.
func (d SchedulerDeliverer) Deliver(delivery scheduler.Delivery) {
	req := Request{
		Content: []store.ContentBlock{{Type: store.ContentText, Text: delivery.Content}},
		Channel: delivery.Channel,
		Sender:  delivery.Sender,
	}
	if err := d.Pipeline.Deliver(context.Background(), delivery.Mind, req, io.Discard, func() {}); err != nil {
		log.Printf("pipeline: %s: deliver scheduled message: %v", delivery.Mind, err)
	}
}

// DrainQueued replays messages a budget period rollover has just
// released back through the pipeline, in enqueue order. It matches
// budget.Drainer's signature so callers wire it directly into
// budget.Manager.Tick. A message that fails to redeliver (mind since
// removed, still not running) is logged and skipped rather than
// aborting the rest of the batch.
func (p *Pipeline) DrainQueued(mindName string, msgs []budget.QueuedMessage) {
	for _, qm := range msgs {
		var blocks []store.ContentBlock
		if err := json.Unmarshal(qm.Content, &blocks); err != nil {
			log.Printf("pipeline: %s: drain queued message: decode content: %v", mindName, err)
			continue
		}
		req := Request{Content: blocks, Channel: qm.Channel, Sender: qm.Sender}
		if err := p.Deliver(context.Background(), mindName, req, io.Discard, func() {}); err != nil {
			log.Printf("pipeline: %s: drain queued message: %v", mindName, err)
		}
	}
}

// relay copies each NDJSON line from upstream to w verbatim while
// accumulating text/thinking blocks, updating activity and usage, and
// persisting the final assistant message once a done event arrives.
// The read loop itself follows the teacher's captureOutput idiom: a
// plain bufio.Reader.ReadString('\n') loop rather than a Scanner, since
// a truncated final line (upstream closed mid-write) still needs to be
// drained and inspected instead of silently dropped.
func (p *Pipeline) relay(ctx context.Context, mindName string, conv *store.Conversation, upstream io.Reader, w io.Writer, flush func()) error {
	br := bufio.NewReader(upstream)

	var blocks []store.ContentBlock
	first := true
	done := false

	for {
		select {
		case <-ctx.Done():
			return p.persistPartial(mindName, conv, blocks, done)
		default:
		}

		raw, readErr := br.ReadString('\n')
		if len(raw) > maxLineSize {
			raw = raw[:maxLineSize]
		}
		line := strings.TrimSuffix(strings.TrimSuffix(raw, "\n"), "\r")

		if line == "" {
			if readErr != nil {
				break
			}
			continue
		}

		if _, err := w.Write([]byte(line)); err == nil {
			w.Write([]byte("\n"))
			if flush != nil {
				flush()
			}
		}

		var evt mindEvent
		if err := json.Unmarshal([]byte(line), &evt); err != nil {
			if readErr != nil {
				break
			}
			continue
		}

		if first {
			p.activity.Signal(mindName, activity.SignalSessionStart)
			first = false
		}

		switch evt.Type {
		case "text":
			blocks = append(blocks, store.ContentBlock{Type: store.ContentText, Text: evt.Content})
			p.activity.Signal(mindName, activity.SignalMessage)
		case "thinking":
			p.activity.Signal(mindName, activity.SignalMessage)
		case "tool_use":
			inputMap, _ := evt.Input.(map[string]any)
			blocks = append(blocks, store.ContentBlock{Type: store.ContentToolUse, ToolName: evt.Name, ToolInput: inputMap})
			p.activity.Signal(mindName, activity.SignalToolUse)
		case "image":
			blocks = append(blocks, store.ContentBlock{Type: store.ContentImage, MediaType: evt.MediaType, Data: evt.Data})
		case "usage":
			p.budget.RecordUsage(mindName, evt.InputTokens, evt.OutputTokens)
			p.activity.Signal(mindName, activity.SignalUsage)
		case "done":
			done = true
			p.activity.Signal(mindName, activity.SignalDone)
		}

		if readErr != nil {
			break
		}
	}

	return p.persistPartial(mindName, conv, blocks, done)
}

func (p *Pipeline) persistPartial(mindName string, conv *store.Conversation, blocks []store.ContentBlock, done bool) error {
	if len(blocks) == 0 {
		return nil
	}
	contentJSON, err := json.Marshal(blocks)
	if err != nil {
		return fmt.Errorf("pipeline: marshal assistant content: %w", err)
	}
	if _, err := p.store.RecordHistory(store.HistoryEntry{
		Mind:    mindName,
		Type:    store.HistoryOutbound,
		Content: contentJSON,
	}); err != nil {
		log.Printf("pipeline: %s: record outbound history: %v", mindName, err)
	}
	if conv != nil {
		if _, err := p.store.AddMessage(conv.ID, store.MessageRoleAssistant, nil, contentJSON); err != nil {
			log.Printf("pipeline: %s: persist assistant message: %v", mindName, err)
		} else {
			p.bus.Publish("message", mindName, "")
		}
	}
	if !done {
		return fmt.Errorf("pipeline: %s: stream ended before done event (caller disconnect or upstream close)", mindName)
	}
	return nil
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// isVoluteChannel reports whether channel addresses a volute-internal
// conversation (as opposed to a connector channel like "discord:123" or
// a system channel like "system:scheduler").
func isVoluteChannel(channel string) bool {
	return len(channel) >= 7 && channel[:7] == "volute:"
}

