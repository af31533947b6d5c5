package generation

import "fmt"

// Stop sequences that end a ChatML assistant turn.
var chatMLStop = []string{"<|im_end|>", "<|im_start|>"}

// formatPrompt wraps prompt for the configured template. It returns the text to
// send as "prompt" and, for the raw template, the system prompt to send as its
// own field.
func formatPrompt(template, system, prompt string) (text, systemField string) {
	if template == "raw" {
		return prompt, system
	}
	if system == "" {
		return fmt.Sprintf("<|im_start|>user\n%s<|im_end|>\n<|im_start|>assistant\n", prompt), ""
	}
	return fmt.Sprintf("<|im_start|>system\n%s<|im_end|>\n<|im_start|>user\n%s<|im_end|>\n<|im_start|>assistant\n",
		system, prompt), ""
}
