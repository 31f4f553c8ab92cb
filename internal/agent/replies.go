package agent

import (
	"errors"

	"github.com/drok-bot/drok/internal/bus"
)

const (
	replyContentPolicy = "Sorry, I couldn't respond to that. The content may have violated safety guidelines. Let's try a fresh start!"
	replyLoopLimit     = "Sorry, that one got away from me. I went back and forth too many times without an answer. Try asking again?"
	replyTransient     = "Sorry, something went wrong while I was thinking about that. Please try again in a moment."
)

// actionFor maps a run result or failure to what the user sees. Unknown tool
// requests produce no reply.
func actionFor(res *Result, err error) *bus.Action {
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownTool):
			return nil
		case errors.Is(err, ErrContentPolicy):
			return bus.TextAction(replyContentPolicy)
		case errors.Is(err, ErrLoopLimitExceeded):
			return bus.TextAction(replyLoopLimit)
		default:
			return bus.TextAction(replyTransient)
		}
	}
	if res == nil {
		return nil
	}
	switch res.Kind {
	case OutcomeMedia:
		if res.Media == nil {
			return nil
		}
		return bus.MediaAction(*res.Media)
	case OutcomeText:
		return bus.TextAction(res.Text)
	}
	return nil
}
