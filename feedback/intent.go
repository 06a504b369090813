package feedback

import "strings"

type Intent string

const (
	IntentAnswer Intent = "answer"
	IntentSkip   Intent = "skip"
	IntentCancel Intent = "cancel"
)

type IntentRecognizer struct {
	SkipKeywords   []string
	CancelKeywords []string
}

func NewIntentRecognizer() *IntentRecognizer {
	return &IntentRecognizer{
		SkipKeywords:   []string{"跳过", "skip", "pass", "n/a", "不知道", "-"},
		CancelKeywords: []string{"取消", "cancel", "退出", "quit", "exit", "停止", "stop"},
	}
}

func (r *IntentRecognizer) Recognize(text string) Intent {
	normalized := strings.ToLower(strings.TrimSpace(text))
	for _, keyword := range r.CancelKeywords {
		if normalized == keyword {
			return IntentCancel
		}
	}
	for _, keyword := range r.SkipKeywords {
		if normalized == keyword {
			return IntentSkip
		}
	}
	return IntentAnswer
}
