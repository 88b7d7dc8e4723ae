package server

type Action string

const (
	ActionSend    Action = "send"
	ActionMute    Action = "mute"
	ActionUnmute  Action = "unmute"
	ActionBlock   Action = "block"
	ActionUnblock Action = "unblock"
	ActionPin     Action = "pin"
	ActionDelete  Action = "delete"
	ActionEdit    Action = "edit"
)

// PolicyError is a moderation denial. The reason is surfaced to the
// acting connection only, never broadcast.
type PolicyError struct {
	Reason string
}

func (e *PolicyError) Error() string {
	return e.Reason
}

func denied(reason string) *PolicyError {
	return &PolicyError{Reason: reason}
}

// ModerationTarget describes the object of a moderation decision. For
// user-scoped actions Username and SessionExists are set; for
// message-scoped actions MessageAuthor and MessageDeleted are set.
type ModerationTarget struct {
	Username       string
	SessionExists  bool
	MessageAuthor  string
	MessageDeleted bool
}

// CanModerate decides whether actor may perform action on target. It is
// a pure function: no side effects, no storage or transport access.
func CanModerate(actor *Session, action Action, target ModerationTarget) *PolicyError {
	if actor == nil {
		return denied("no active session")
	}

	switch action {
	case ActionSend:
		if actor.IsBlocked {
			return denied("you are blocked from this room")
		}
		if actor.IsMuted {
			return denied("you are muted")
		}
		return nil
	case ActionMute, ActionUnmute:
		if !actor.IsModerator {
			return denied("only moderators can mute users")
		}
		if target.Username == actor.Username {
			return denied("you cannot mute yourself")
		}
		if !target.SessionExists {
			return denied("user is not in this room")
		}
		return nil
	case ActionBlock, ActionUnblock:
		if !actor.IsModerator {
			return denied("only moderators can block users")
		}
		if target.Username == actor.Username {
			return denied("you cannot block yourself")
		}
		return nil
	case ActionPin:
		if !actor.IsModerator {
			return denied("only moderators can pin messages")
		}
		return nil
	case ActionDelete:
		if !actor.IsModerator && actor.Username != target.MessageAuthor {
			return denied("you can only delete your own messages")
		}
		return nil
	case ActionEdit:
		if actor.Username != target.MessageAuthor {
			return denied("you can only edit your own messages")
		}
		if target.MessageDeleted {
			return denied("message has been deleted")
		}
		return nil
	default:
		return denied("unknown action")
	}
}
