package stageexec

import (
	"fmt"
	"strings"

	"github.com/hivetechs/consensus/internal/consensustypes"
)

// stageSystemPrompt returns the fixed system prompt for one stage, per
// spec.md §4.E: Generator produces a comprehensive answer, Refiner
// polishes it, Validator critiques and checks facts, Curator writes the
// authoritative final version citing consensus among the prior stages.
func stageSystemPrompt(stage consensustypes.Stage) string {
	switch stage {
	case consensustypes.Generator:
		return "You are the Generator in a multi-model consensus pipeline. " +
			"Produce a comprehensive, well-reasoned answer to the user's question. " +
			"Cover the important angles directly; do not hedge with disclaimers about " +
			"being an AI. Later stages will refine and validate your answer."
	case consensustypes.Refiner:
		return "You are the Refiner in a multi-model consensus pipeline. " +
			"You receive the previous stage's answer. Improve its clarity, " +
			"completeness, and precision. Keep what is correct, fix what is wrong " +
			"or vague, and fill gaps. Produce a complete, standalone answer, not a diff."
	case consensustypes.Validator:
		return "You are the Validator in a multi-model consensus pipeline. " +
			"Critically check the previous stage's answer for factual errors, " +
			"unsupported claims, and internal inconsistencies. Correct what needs " +
			"correcting and produce a complete, standalone answer reflecting your review, " +
			"not just a list of issues."
	case consensustypes.Curator:
		return "You are the Curator in a multi-model consensus pipeline, the final stage. " +
			"Produce the authoritative final answer, citing where the prior stages' " +
			"reasoning converged. Resolve any remaining disagreement. Your output is " +
			"returned to the user as-is."
	default:
		return ""
	}
}

// buildCombinedPrompt assembles the user-turn content for one stage. For
// Generator it is just the query; for later stages the original query is
// followed by a block naming the previous stage's output, and then any
// injected context, in that order — grounded on
// internal/activities/intermediate_synthesis.go's buildIntermediateSynthesisPrompt
// convention of appending context blocks with a strings.Builder rather than
// templating a single format string.
func buildCombinedPrompt(stage consensustypes.Stage, query, prior, contextStr string) string {
	var sb strings.Builder
	sb.WriteString(query)

	if stage != consensustypes.Generator && prior != "" {
		sb.WriteString(fmt.Sprintf("\n\nPrevious stage produced:\n%s\n", prior))
	}
	if contextStr != "" {
		sb.WriteString(fmt.Sprintf("\n\nRepository context:\n%s\n", contextStr))
	}
	return sb.String()
}

func buildMessages(stage consensustypes.Stage, query, prior, contextStr string) []consensustypes.Message {
	return []consensustypes.Message{
		{Role: consensustypes.RoleSystem, Content: stageSystemPrompt(stage)},
		{Role: consensustypes.RoleUser, Content: buildCombinedPrompt(stage, query, prior, contextStr)},
	}
}
