// Package service 包含了应用的业务逻辑层。
package service

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"doctalk-go/internal/model"
)

// 系统提示词：约束模型只依据给定摘录作答。
const groundingInstruction = "你是一个文档问答助手。请只依据下方给出的文档摘录回答用户的问题。" +
	"摘录没有覆盖的内容，要明确说明无法从该文档中找到答案，不要编造。"

// BuildContext 将检索命中的片段组装成发给模型的系统消息。
// 它是 (文档名, 命中列表, 字符预算) 的纯函数：相同输入总是产出相同文本。
// 超出预算时按整条丢弃后续摘录，并以一行省略说明收尾，绝不无声截断。
func BuildContext(fileName string, hits []model.FragmentHit, maxChars int) string {
	var sb strings.Builder
	sb.WriteString(groundingInstruction)
	sb.WriteString("\n\n")
	fmt.Fprintf(&sb, "文档：《%s》\n\n", fileName)

	used := utf8.RuneCountInString(sb.String())
	included := 0
	for i, hit := range hits {
		block := fmt.Sprintf("[%d] (相似度 %.2f) %s\n\n", i+1, hit.Similarity, hit.Content)
		blockLen := utf8.RuneCountInString(block)
		if included > 0 && used+blockLen > maxChars {
			break
		}
		if included == 0 && used+blockLen > maxChars {
			// 首条摘录也超预算时截断保留，保证上下文不为空
			block = truncateRunes(block, maxChars-used) + "…\n\n"
			blockLen = utf8.RuneCountInString(block)
		}
		sb.WriteString(block)
		used += blockLen
		included++
	}

	if omitted := len(hits) - included; omitted > 0 {
		fmt.Fprintf(&sb, "（另有 %d 条相关摘录因篇幅限制未列出）\n", omitted)
	}
	return sb.String()
}

// truncateRunes 按字符数截断字符串，避免把多字节字符截成半个。
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
