package dialogue

import (
	"strings"
	"time"
)

const promptRules = `1）使用日常口语，像朋友聊天一样自然
2）回答简短，控制在30字以内，说话时长不超过15秒
3）避免书面语、专业术语和长句子
4）直接回答重点，不要啰嗦
5）【重要】每次回答都要有不同的表达方式和内容，即使问题相同也要给出多样化的回答
6）【重要】不要使用任何括号（包括（）()【】[]）来添加动作、表情或语气描述，直接用文字表达即可`

const personaRule = "0）保持你的角色设定，用符合你性格的语气和表达方式回答\n"

// SystemPrompt builds the instruction sent ahead of the user's text. The
// persona only changes the wording; it never changes control flow.
func SystemPrompt(now time.Time, persona Persona) string {
	var b strings.Builder
	name := strings.TrimSpace(persona.Name)
	personality := strings.TrimSpace(persona.Personality)
	if name != "" {
		b.WriteString("你是")
		b.WriteString(name)
		b.WriteString("，一个语音对话助手。")
	} else {
		b.WriteString("你是一个语音对话助手。")
	}
	b.WriteString("当前时间：")
	b.WriteString(now.Format("15:04:05"))
	b.WriteString("\n\n")
	if personality != "" {
		b.WriteString("你的性格特点：")
		b.WriteString(personality)
		b.WriteString("\n\n")
	}
	b.WriteString("回答要求：\n")
	if name != "" && personality != "" {
		b.WriteString(personaRule)
	}
	b.WriteString(promptRules)
	return b.String()
}
