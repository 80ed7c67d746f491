package main

import (
	"fmt"
	"strconv"

	"github.com/fatih/color"

	"github.com/ibs-source/mqtt-session/internal/message"
)

// formatEvent renders evt as one line, coloured by outcome
func formatEvent(evt message.Event) string {
	kind := evt.Kind.Type()
	switch evt.Kind {
	case message.Exception, message.SubscriptionError:
		kind = color.RedString(kind)
	case message.MessageArrived:
		kind = color.CyanString(kind)
	case message.ConnectionStatus:
		kind = color.YellowString(kind)
	default:
		kind = color.GreenString(kind)
	}

	line := fmt.Sprintf("%s %s", kind, color.BlueString(evt.RequestID))
	if evt.Topic != "" {
		line += fmt.Sprintf(" topic=%s", evt.Topic)
	}

	switch evt.Kind {
	case message.ConnectionStatus:
		line += " connected=" + strconv.FormatBool(evt.Connected)
	case message.SubscriptionSuccess:
		line += fmt.Sprintf(" qos=%d", evt.QoS)
	case message.MessageArrived:
		line += fmt.Sprintf(" payload=%q", evt.Payload)
	case message.Exception, message.SubscriptionError:
		line += " error=" + color.RedString(evt.ErrorDetail())
	}
	return line
}
