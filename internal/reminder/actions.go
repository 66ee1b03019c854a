package reminder

import (
	"context"

	"github.com/cockroachdb/errors"

	"remindd/internal/action"
	kit "remindd/internal/transport"
)

// DeliverAction sends a reminder. Args: [chatID int64, message string].
const DeliverAction action.Ref = "reminder.deliver"

// RegisterActions adds the reminder actions to reg. Delivery goes through
// the chat transport, so it runs on the host loop.
func RegisterActions(reg *action.Registry, sender kit.Sender) {
	reg.Register(action.Action{
		Name: DeliverAction,
		Loop: true,
		Fn: func(ctx context.Context, inv action.Invocation) (any, error) {
			chatID, msg, err := deliverArgs(inv.Args)
			if err != nil {
				return nil, errors.Wrapf(err, "job %s", inv.JobID)
			}
			return nil, sender.SendText(ctx, kit.ChatTarget{ChatID: chatID}, "🔔 Reminder:\n"+msg, &kit.SendOptions{DisablePreview: true})
		},
	})
}

func deliverArgs(args []any) (int64, string, error) {
	if len(args) != 2 {
		return 0, "", errors.Newf("want [chat_id, message], got %d args", len(args))
	}
	var chatID int64
	switch v := args[0].(type) {
	case int64:
		chatID = v
	case int:
		chatID = int64(v)
	default:
		return 0, "", errors.Newf("chat id is %T, want an integer", args[0])
	}
	msg, ok := args[1].(string)
	if !ok {
		return 0, "", errors.Newf("message is %T, want a string", args[1])
	}
	return chatID, msg, nil
}
