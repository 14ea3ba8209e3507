package learnstore

import "fmt"

// Outcome classifies the result of a subscribe or unsubscribe request.
type Outcome int

const (
	OutcomeSubscribed Outcome = iota
	OutcomeAlreadySubscribed
	OutcomeUnsubscribed
	OutcomeNotSubscribed
	OutcomeSessionNotFound
)

var outcomeNames = map[Outcome]string{
	OutcomeSubscribed:        "subscribed",
	OutcomeAlreadySubscribed: "already_subscribed",
	OutcomeUnsubscribed:      "unsubscribed",
	OutcomeNotSubscribed:     "not_subscribed",
	OutcomeSessionNotFound:   "session_not_found",
}

// outcomeMessages are relayed verbatim to chat users by the bot front end.
// Keep the wording stable.
var outcomeMessages = map[Outcome]string{
	OutcomeSubscribed:        "User is now subscribed to id: %s",
	OutcomeAlreadySubscribed: "User is already subscribed to id: %s!",
	OutcomeUnsubscribed:      "User is now unsubscribed from id: %s",
	OutcomeNotSubscribed:     "User is not subscribed to id: %s",
	OutcomeSessionNotFound:   "id: %s doesn't exist",
}

func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Changed reports whether the outcome implies the document was rewritten.
func (o Outcome) Changed() bool {
	return o == OutcomeSubscribed || o == OutcomeUnsubscribed
}

// Result is the typed outcome of AddSubscriber and RemoveSubscriber.
type Result struct {
	Outcome   Outcome
	SessionID string
}

// Message renders the user-facing text for the result.
func (r Result) Message() string {
	format, ok := outcomeMessages[r.Outcome]
	if !ok {
		return r.Outcome.String()
	}
	return fmt.Sprintf(format, r.SessionID)
}
