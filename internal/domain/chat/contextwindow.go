package chat

import "docuchat/internal/provider"

// buildHistory 将已回答的轮次转换为完整的 user/assistant 消息对，
// 最新的在后。skipIndex 轮次（当前正在处理的提问）被跳过，
// 最多保留 maxTurns 对。
func buildHistory(turns []Turn, skipIndex, maxTurns int) []provider.Message {
	var history []provider.Message
	for _, t := range turns {
		if t.Index == skipIndex {
			continue
		}
		// 只保留完整问答对，未回答或纯上传轮次不进历史
		if t.State != TurnAnswered || t.UserText == "" || t.Answer == "" {
			continue
		}
		history = append(history,
			provider.Message{Role: "user", Content: t.UserText},
			provider.Message{Role: "assistant", Content: t.Answer},
		)
	}

	if maxTurns > 0 && len(history) > maxTurns*2 {
		history = history[len(history)-maxTurns*2:]
	}
	return history
}

// fitWindow 将上下文和历史裁剪到字符预算内。
// 有历史时上下文最多占预算一半，剩余给历史；历史超预算时
// 从最旧的问答对开始整对丢弃。
func fitWindow(contextText string, history []provider.Message, maxChars int) (string, []provider.Message) {
	if maxChars <= 0 {
		return contextText, history
	}

	contextBudget := maxChars
	if len(history) > 0 {
		contextBudget = maxChars / 2
	}

	ctxRunes := []rune(contextText)
	if len(ctxRunes) > contextBudget {
		contextText = string(ctxRunes[:contextBudget])
	}

	remaining := maxChars - len([]rune(contextText))
	for len(history) > 0 && historyChars(history) > remaining {
		// 消息成对追加，成对丢弃
		if len(history) >= 2 {
			history = history[2:]
		} else {
			history = nil
		}
	}
	return contextText, history
}

func historyChars(history []provider.Message) int {
	total := 0
	for _, m := range history {
		total += len([]rune(m.Content))
	}
	return total
}
