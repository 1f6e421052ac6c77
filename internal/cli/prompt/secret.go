package prompt

import (
	"github.com/manifoldco/promptui"
)

// Secret prompts for sensitive input with masking, such as an API token.
func Secret(label string) (string, error) {
	prompt := promptui.Prompt{
		Label: label,
		Mask:  '*',
	}

	result, err := prompt.Run()
	return result, wrapError(err)
}
