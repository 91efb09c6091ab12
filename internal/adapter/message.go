package adapter

// Status marks whether a message continues the stream or ends it.
type Status int

const (
	StatusContinuing Status = 1
	StatusFinished   Status = 2
)

func (s Status) String() string {
	switch s {
	case StatusContinuing:
		return "continuing"
	case StatusFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// RoleAssistant is the role of every decoded message.
const RoleAssistant = "assistant"

// Message is a vendor neutral streaming event.
type Message struct {
	Status  Status `json:"status"`
	Role    string `json:"role"`
	Content string `json:"content"`
	Index   int    `json:"index"`
}

// Continuing returns a content carrying message.
func Continuing(content string, index int) Message {
	return Message{Status: StatusContinuing, Role: RoleAssistant, Content: content, Index: index}
}

// Finished returns the empty message that ends a stream.
func Finished(index int) Message {
	return Message{Status: StatusFinished, Role: RoleAssistant, Index: index}
}

// Emitter receives what a codec decodes from a frame.
type Emitter interface {
	Emit(msg Message)
	ReportUsage(tokens int)
}

// EmitterFuncs adapts two functions to Emitter. Nil functions drop the event.
type EmitterFuncs struct {
	OnMessage func(Message)
	OnUsage   func(tokens int)
}

func (f EmitterFuncs) Emit(msg Message) {
	if f.OnMessage != nil {
		f.OnMessage(msg)
	}
}

func (f EmitterFuncs) ReportUsage(tokens int) {
	if f.OnUsage != nil {
		f.OnUsage(tokens)
	}
}

// UsageOnly wraps out so that messages are dropped and usage reports pass
// through.
func UsageOnly(out Emitter) Emitter {
	return EmitterFuncs{OnUsage: out.ReportUsage}
}
