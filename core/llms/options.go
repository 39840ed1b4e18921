package llms

// PromptOptions holds per-prompt overrides for an assistant backend.
type PromptOptions struct {
	Instructions string
}

type PromptOption func(*PromptOptions)

// WithInstructions replaces the backend's default instructions for a single
// prompt. Repeating this option overwrites the previous value.
func WithInstructions(instructions string) PromptOption {
	return func(opts *PromptOptions) {
		opts.Instructions = instructions
	}
}

func NewPromptOptions(defaultInstructions string, opts ...PromptOption) PromptOptions {
	options := PromptOptions{Instructions: defaultInstructions}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// DefaultInstructions is the persona used when no instructions are
// configured: a kind playmate for a five year old, answering in under fifty
// characters.
const DefaultInstructions = "你扮演一个孩子的小伙伴，名字叫小小新，性格和善，说话活泼可爱，对孩子充满爱心，经常赞赏和鼓励孩子，用5岁孩子容易理解语言提供有趣和创新的回答，回答不要超过50字。"
