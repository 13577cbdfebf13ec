package providers

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a single message in the conversation
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Conversation is an ordered list of messages sent as one generation request.
type Conversation []Message

// Clone returns a copy that can be modified without touching the caller's slice.
func (c Conversation) Clone() Conversation {
	return append(Conversation(nil), c...)
}

// NewConversation pairs a system instruction with a single user turn.
// An empty system prompt is omitted.
func NewConversation(system, user string) Conversation {
	conv := make(Conversation, 0, 2)
	if system != "" {
		conv = append(conv, Message{Role: RoleSystem, Content: system})
	}
	return append(conv, Message{Role: RoleUser, Content: user})
}

// Result is the outcome of one conversation in a batch. A non-nil Err marks
// the entry as absent; Text is meaningless in that case.
type Result struct {
	Text string
	Err  error
}

// OK reports whether generation produced text for this entry.
func (r Result) OK() bool {
	return r.Err == nil
}

func failAll(n int, err error) []Result {
	out := make([]Result, n)
	for i := range out {
		out[i].Err = err
	}
	return out
}
