package slack

import (
	"fmt"

	slacklib "github.com/slack-go/slack"

	"github.com/chatops/taskline/internal/messenger"
)

// BuildChoiceBlocks builds Slack Block Kit blocks for a prompt with
// choice buttons. Each button carries its callback payload as the value.
func BuildChoiceBlocks(text string, options []messenger.ChoiceOption) []slacklib.Block {
	textBlock := slacklib.NewSectionBlock(
		slacklib.NewTextBlockObject(slacklib.MarkdownType, text, false, false),
		nil,
		nil,
	)

	if len(options) == 0 {
		return []slacklib.Block{textBlock}
	}

	buttons := make([]slacklib.BlockElement, 0, len(options))
	for i, opt := range options {
		actionID := fmt.Sprintf("choice_%d", i)
		btn := slacklib.NewButtonBlockElement(
			actionID,
			opt.Data,
			slacklib.NewTextBlockObject(slacklib.PlainTextType, opt.Label, false, false),
		)
		buttons = append(buttons, btn)
	}

	actionBlock := slacklib.NewActionBlock("choices", buttons...)

	return []slacklib.Block{textBlock, actionBlock}
}

// BuildTaskBlocks builds Slack Block Kit blocks for a task status card.
func BuildTaskBlocks(title, status, priority string) []slacklib.Block {
	text := fmt.Sprintf("*Task:* %s\n*Status:* `%s`\n*Priority:* `%s`", title, status, priority)
	section := slacklib.NewSectionBlock(
		slacklib.NewTextBlockObject(slacklib.MarkdownType, text, false, false),
		nil,
		nil,
	)

	return []slacklib.Block{section}
}
