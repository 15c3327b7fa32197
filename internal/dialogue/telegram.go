package dialogue

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	tghelpers "github.com/m3rciful/holdingbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// Endpoints lists every telebot endpoint that fires for a chat message, so
// whatever the user sends is answered by the form: text, media and the
// service messages Telegram adds to a chat.
var Endpoints = []string{
	tele.OnText,
	tele.OnMedia,
	tele.OnPhoto,
	tele.OnVoice,
	tele.OnAudio,
	tele.OnAnimation,
	tele.OnDocument,
	tele.OnSticker,
	tele.OnVideo,
	tele.OnVideoNote,
	tele.OnContact,
	tele.OnLocation,
	tele.OnVenue,
	tele.OnGame,
	tele.OnDice,
	tele.OnInvoice,
	tele.OnPayment,
	tele.OnRefund,
	tele.OnPinned,
	tele.OnTopicCreated,
	tele.OnTopicReopened,
	tele.OnTopicClosed,
	tele.OnTopicEdited,
	tele.OnGeneralTopicHidden,
	tele.OnGeneralTopicUnhidden,
	tele.OnWriteAccessAllowed,
	tele.OnAddedToGroup,
	tele.OnUserJoined,
	tele.OnUserLeft,
	tele.OnUserShared,
	tele.OnChatShared,
	tele.OnNewGroupTitle,
	tele.OnNewGroupPhoto,
	tele.OnGroupPhotoDeleted,
	tele.OnGroupCreated,
	tele.OnSuperGroupCreated,
	tele.OnChannelCreated,
	tele.OnMigration,
	tele.OnVideoChatStarted,
	tele.OnVideoChatEnded,
	tele.OnVideoChatParticipants,
	tele.OnVideoChatScheduled,
	tele.OnWebApp,
	tele.OnProximityAlert,
	tele.OnAutoDeleteTimer,
}

var errNoChat = errors.New("dialogue: message has no chat")

// IncomingFrom extracts the chat and text of the update's message. Channel
// posts and non-message updates yield false.
func IncomingFrom(c tele.Context) (Incoming, bool) {
	msg := c.Update().Message
	if msg == nil || msg.Chat == nil {
		return Incoming{}, false
	}
	return Incoming{ChatID: msg.Chat.ID, Text: msg.Text}, true
}

// ContextSender replies through the telebot context of the current update,
// via the shared dispatcher when one is installed.
type ContextSender struct {
	C tele.Context
}

// Send delivers text to the update's chat. chatID is the same chat; the
// context already carries the recipient.
func (s ContextSender) Send(_ context.Context, _ int64, text string) error {
	return tghelpers.ReplyText(s.C, text)
}

// handledUpdates remembers the last update ids the handler ran for.
// telebot fires OnUserJoined once per joined user of a single update.
type handledUpdates struct {
	mu   sync.Mutex
	ids  [64]int
	next int
}

// first reports whether id is new. Id 0 is never remembered.
func (h *handledUpdates) first(id int) bool {
	if id == 0 {
		return true
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, seen := range h.ids {
		if seen == id {
			return false
		}
	}
	h.ids[h.next%len(h.ids)] = id
	h.next++
	return true
}

// TelegramHandler exposes the machine as a telebot handler. The step's
// transition is added to the update's handler summary.
func TelegramHandler(m *Machine) tele.HandlerFunc {
	var handled handledUpdates
	return func(c tele.Context) error {
		upd := c.Update()
		if upd.Message == nil || !handled.first(upd.ID) {
			return nil
		}
		in, ok := IncomingFrom(c)
		if !ok {
			return errNoChat
		}
		ctx := tghelpers.WithHandler(c, "dialogue")
		outcome, err := m.Apply(ctx, in, ContextSender{C: c})
		if err != nil {
			return err
		}
		attrs := []slog.Attr{slog.String("transition", outcome.Transition.String())}
		if outcome.Next != nil {
			attrs = append(attrs, slog.String("next_state", string(outcome.Next.Kind())))
		}
		tghelpers.Annotate(c, attrs...)
		return nil
	}
}
