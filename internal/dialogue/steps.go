package dialogue

import (
	"errors"
	"fmt"
	"strconv"
)

// Replies sent by the form.
const (
	ReplyStart       = "Let's start! Enter Your Fav Crypto?"
	ReplyAskQuantity = "How much you Holding?"
	ReplyAskSymbol   = "What's The Symbol of Your Crypto Holding"
	ReplyPlainText   = "Send me plain text."
	ReplyNumber      = "Send me a number."
)

// Incoming is one chat message. Text is empty for messages without text
// (photos, stickers, locations and the like).
type Incoming struct {
	ChatID int64
	Text   string
}

// Transition tells the machine how to apply an Outcome to the store.
type Transition int

const (
	// Stay leaves the stored state untouched.
	Stay Transition = iota
	// Advance stores Outcome.Next.
	Advance
	// Exit clears the chat's session.
	Exit
)

func (t Transition) String() string {
	switch t {
	case Stay:
		return "stay"
	case Advance:
		return "advance"
	case Exit:
		return "exit"
	}
	return "unknown"
}

// Outcome is the single reply for a message and what happens to the state.
type Outcome struct {
	Reply      string
	Next       State
	Transition Transition
}

// Rejected reports whether the input was invalid and the user was re-prompted.
func (o Outcome) Rejected() bool {
	return o.Transition == Stay
}

func reject(reply string) Outcome {
	return Outcome{Reply: reply, Transition: Stay}
}

// ErrNoMatch is returned by Step for a state outside the four dialogue cases.
var ErrNoMatch = errors.New("dialogue: no handler for state")

// Step dispatches to the handler of the current state.
func Step(s State, in Incoming) (Outcome, error) {
	switch st := s.(type) {
	case Start:
		return Begin(st, in), nil
	case ReceiveName:
		return ReceiveNameStep(st, in), nil
	case ReceiveNo:
		return ReceiveNoStep(st, in), nil
	case ReceiveSymbol:
		return ReceiveSymbolStep(st, in), nil
	default:
		return Outcome{}, fmt.Errorf("%w: %T", ErrNoMatch, s)
	}
}

// Begin opens the form on any message.
func Begin(_ Start, _ Incoming) Outcome {
	return Outcome{Reply: ReplyStart, Next: ReceiveName{}, Transition: Advance}
}

// ReceiveNameStep accepts any text as the cryptocurrency name.
func ReceiveNameStep(_ ReceiveName, in Incoming) Outcome {
	if in.Text == "" {
		return reject(ReplyPlainText)
	}
	return Outcome{Reply: ReplyAskQuantity, Next: ReceiveNo{Name: in.Text}, Transition: Advance}
}

// ReceiveNoStep accepts the coin count as an unsigned 8-bit integer.
func ReceiveNoStep(s ReceiveNo, in Incoming) Outcome {
	n, ok := ParseQuantity(in.Text)
	if !ok {
		return reject(ReplyNumber)
	}
	return Outcome{Reply: ReplyAskSymbol, Next: ReceiveSymbol{Name: s.Name, Quantity: n}, Transition: Advance}
}

// ReceiveSymbolStep accepts the symbol and finishes the form with a report.
func ReceiveSymbolStep(s ReceiveSymbol, in Incoming) Outcome {
	if in.Text == "" {
		return reject(ReplyPlainText)
	}
	return Outcome{Reply: Report(s.Name, s.Quantity, in.Text), Next: Start{}, Transition: Exit}
}

// Report formats the completed form.
func Report(name string, quantity uint8, symbol string) string {
	return fmt.Sprintf("Cyptocurrency: %s\nCoins: %d\nSymbol: %s", name, quantity, symbol)
}

// ParseQuantity parses 0..255 written as decimal digits with an optional
// leading '+'. Whitespace and signs other than a single '+' are rejected.
func ParseQuantity(text string) (uint8, bool) {
	digits := text
	if len(digits) > 1 && digits[0] == '+' {
		digits = digits[1:]
	}
	n, err := strconv.ParseUint(digits, 10, 8)
	if err != nil {
		return 0, false
	}
	return uint8(n), true
}
