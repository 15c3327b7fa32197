package commands

import (
	tele "gopkg.in/telebot.v4"
)

// Command describes an entry of the bot command menu. A nil Handler leaves
// the command to the OnText route.
type Command struct {
	Handler     tele.HandlerFunc
	Description string
	Hidden      bool
}
