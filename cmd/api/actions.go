package main

import (
	"context"
	"fmt"
	"time"

	"github.com/concierge-hq/concierge/internal/action"
	"github.com/concierge-hq/concierge/internal/natsio"
)

// Outbound subjects consumed by the messaging, email, and task integrations.
const (
	subjectOutboundSMS   = "concierge.outbound.sms"
	subjectOutboundEmail = "concierge.outbound.email"
	subjectOutboundTask  = "concierge.outbound.task"
)

// registerActions wires the built-in action set. Side-effecting actions
// require approval and hand their payload to the relevant integration over
// NATS; read-only actions run unattended.
func registerActions(gate *action.Gate, streams *natsio.StreamManager) error {
	actions := []action.Action{
		{
			Name:        "current_time",
			Description: "Get the current date and time.",
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				return time.Now().Format("Monday, January 2 2006, 15:04 MST"), nil
			},
		},
		{
			Name:             "send_sms",
			Description:      "Send an SMS message to a phone number.",
			RequiresApproval: true,
			Params: []action.Param{
				{Name: "to", Type: "string", Description: "Recipient phone number in E.164 format", Required: true},
				{Name: "body", Type: "string", Description: "Message text", Required: true},
			},
			Handler: outboundHandler(streams, subjectOutboundSMS, "SMS to %v queued for delivery"),
		},
		{
			Name:             "send_email",
			Description:      "Send an email.",
			RequiresApproval: true,
			Params: []action.Param{
				{Name: "to", Type: "string", Description: "Recipient email address", Required: true},
				{Name: "subject", Type: "string", Description: "Email subject", Required: true},
				{Name: "body", Type: "string", Description: "Email body", Required: true},
			},
			Handler: outboundHandler(streams, subjectOutboundEmail, "email to %v queued for delivery"),
		},
		{
			Name:             "create_task",
			Description:      "Create a task in the team task tracker.",
			RequiresApproval: true,
			Params: []action.Param{
				{Name: "title", Type: "string", Description: "Task title", Required: true},
				{Name: "notes", Type: "string", Description: "Optional task notes"},
				{Name: "due", Type: "string", Description: "Optional due date, YYYY-MM-DD"},
			},
			Handler: outboundHandler(streams, subjectOutboundTask, "task %v created"),
		},
	}

	for _, a := range actions {
		if err := gate.Register(a); err != nil {
			return err
		}
	}
	return nil
}

// outboundHandler publishes the call's arguments to an integration subject
// and returns the observation text for the model.
func outboundHandler(streams *natsio.StreamManager, subject, okFormat string) action.HandlerFunc {
	return func(ctx context.Context, args map[string]any) (string, error) {
		if err := streams.PublishJSON(subject, args); err != nil {
			return "", err
		}

		target := args["to"]
		if target == nil {
			target = args["title"]
		}
		return fmt.Sprintf(okFormat, target), nil
	}
}
