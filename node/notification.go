package node

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360studio/dagflow/execution"
	"github.com/c360studio/dagflow/notify"
	"github.com/c360studio/dagflow/workflow"
)

// NotificationNode renders a templated message and dispatches it
// through a registered provider. Config:
//
//	providerType      registered provider id (console, file, ...)
//	providerConfig    provider-specific map
//	title             message title
//	contentTemplate   ${key} resolves against the input payload,
//	                  ${ctx.key} against the execution context
//	messageType       TEXT | HTML | MARKDOWN | JSON | TEMPLATE
//	priority          LOW | NORMAL | HIGH | URGENT
//	recipients, ccRecipients, attachments, scheduleTime, templateId
//	inputKey / inputs
type NotificationNode struct {
	decl       *workflow.Node
	logger     *slog.Logger
	dispatcher *notify.Dispatcher
}

func (n *NotificationNode) ID() string { return n.decl.ID }

func (n *NotificationNode) Validate() *workflow.ValidationResult {
	result := &workflow.ValidationResult{}

	if n.dispatcher == nil {
		result.AddError("config", "no notification dispatcher is available")
	}
	if configString(n.decl.Config, "providerType") == "" {
		result.AddError("config.providerType", "notification node requires a providerType")
	}
	if configString(n.decl.Config, "contentTemplate") == "" {
		result.AddWarning("config.contentTemplate", "empty content template")
	}

	if mt := configString(n.decl.Config, "messageType"); mt != "" {
		switch notify.MessageType(mt) {
		case notify.TypeText, notify.TypeHTML, notify.TypeMarkdown, notify.TypeJSON, notify.TypeTemplate:
		default:
			result.AddError("config.messageType", fmt.Sprintf("unknown message type %q", mt))
		}
	}
	if p := configString(n.decl.Config, "priority"); p != "" {
		switch notify.Priority(p) {
		case notify.PriorityLow, notify.PriorityNormal, notify.PriorityHigh, notify.PriorityUrgent:
		default:
			result.AddError("config.priority", fmt.Sprintf("unknown priority %q", p))
		}
	}
	if st := configString(n.decl.Config, "scheduleTime"); st != "" {
		if _, err := time.Parse(time.RFC3339, st); err != nil {
			result.AddError("config.scheduleTime", fmt.Sprintf("not an RFC3339 timestamp: %v", err))
		}
	}

	result.Merge(ParseInputSpec(n.decl.Config).Validate())
	return result
}

func (n *NotificationNode) Execute(ctx context.Context, ec *execution.Context) *execution.NodeResult {
	input, err := ParseInputSpec(n.decl.Config).Resolve(ec)
	if err != nil {
		r := execution.NewNodeFailure(n.decl.ID, execution.CodeInputResolution, err.Error())
		r.SetMeta("phase", "input-resolution")
		return r
	}

	payload, _ := input.(map[string]any)
	if payload == nil && input != nil {
		// A scalar single input is still addressable in templates under
		// its context key name via ${ctx.key}; expose it as "input" too.
		payload = map[string]any{"input": input}
	}

	content := notify.Interpolate(configString(n.decl.Config, "contentTemplate"), payload, ec.Snapshot())

	msg := notify.NewMessage(configString(n.decl.Config, "title"), content)
	if mt := configString(n.decl.Config, "messageType"); mt != "" {
		msg.MessageType = notify.MessageType(mt)
	}
	if p := configString(n.decl.Config, "priority"); p != "" {
		msg.Priority = notify.Priority(p)
	}
	msg.Recipients = configStringList(n.decl.Config, "recipients")
	msg.CCRecipients = configStringList(n.decl.Config, "ccRecipients")
	msg.Attachments = configStringMap(n.decl.Config, "attachments")
	msg.TemplateID = configString(n.decl.Config, "templateId")
	msg.Variables = payload
	if st := configString(n.decl.Config, "scheduleTime"); st != "" {
		if t, err := time.Parse(time.RFC3339, st); err == nil {
			msg.ScheduleTime = &t
		}
	}

	providerType := configString(n.decl.Config, "providerType")
	sendResult, err := n.dispatcher.Dispatch(ctx, providerType, configMap(n.decl.Config, "providerConfig"), msg)
	if err != nil {
		return execution.NewNodeFailure(n.decl.ID, execution.CodeNotifyFailed, err.Error())
	}

	result := execution.NewNodeSuccess(n.decl.ID, sendResult)
	result.SetMeta("provider", sendResult.ProviderID)
	result.SetMeta("latency_ms", sendResult.LatencyMs)
	return result
}

func (n *NotificationNode) Destroy() error { return nil }
