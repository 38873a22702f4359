package domain

const (
	// DefaultHistoryLimit bounds the number of turns retained per session.
	DefaultHistoryLimit = 10

	// DefaultSessionID is used when a request does not name a session.
	DefaultSessionID = "default"

	// DefaultMessage replaces a missing or blank chat message.
	DefaultMessage = "Say hi"

	// DefaultWorkflowMessage replaces a missing durable chat message.
	DefaultWorkflowMessage = "Hello from Workflows"

	// DefaultSystemPrompt is the directive sent with every inference call.
	DefaultSystemPrompt = "Be concise."

	// DefaultMaxTokens is the output-token budget of a completion.
	DefaultMaxTokens = 120
)

// Step names of the durable chat workflow, in execution order.
const (
	StepLLM     = "llm"
	StepPersist = "persist"
)

// ChatSteps is the ordered step list of every chat workflow run.
var ChatSteps = []string{StepLLM, StepPersist}
