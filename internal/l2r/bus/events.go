package bus

// ChatText is an incoming counterpart message observed by the chat bridge.
type ChatText struct {
	ID   string
	Text string
}

// SessionBusy reports the reply-in-flight flag of the conversation session.
type SessionBusy struct {
	Busy bool
}

// Level is the severity of a Notice.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Notice is a user-facing status message ("Max turns reached", "OpenAI error
// 429: ...").
type Notice struct {
	Level Level
	Text  string
}

// ApprovalAdded announces a reply waiting for operator approval.
type ApprovalAdded struct {
	ID   string
	Text string
}

// ChessBoard is published after every applied move.
type ChessBoard struct {
	FEN   string
	Board string
	SAN   string
}

// ChessOver is published once when a game ends.
type ChessOver struct {
	Reason  string
	Result  string
	Summary string
}

// ImageGenerated is published when the image lab stores a new picture.
type ImageGenerated struct {
	URL    string
	Prompt string
}
