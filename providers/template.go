package providers

import (
	"strings"
	"text/template"
)

const chatMLSource = `{{range .Messages}}<|im_start|>{{.Role}}
{{.Content}}<|im_end|>
{{end}}{{if .AddGenerationPrompt}}<|im_start|>assistant
{{end}}`

// ChatMLStop is the end-of-turn marker used as a stop sequence.
const ChatMLStop = "<|im_end|>"

var chatML = template.Must(template.New("chatml").Parse(chatMLSource))

// ChatMLTokenizer formats conversations with the ChatML template used by
// most instruction-tuned open-weight models.
type ChatMLTokenizer struct{}

func (ChatMLTokenizer) ApplyChatTemplate(messages []Message, addGenerationPrompt bool) (string, error) {
	var b strings.Builder
	err := chatML.Execute(&b, struct {
		Messages            []Message
		AddGenerationPrompt bool
	}{messages, addGenerationPrompt})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}
