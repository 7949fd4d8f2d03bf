package live

import (
	"strings"

	"github.com/didata-ai/didata/pkg/provider/s2s"
)

const (
	// DefaultVoice is used when the settings carry no voice.
	DefaultVoice = "Puck"

	// DefaultContextRunes caps the lesson content embedded in the system
	// instruction.
	DefaultContextRunes = 5000
)

// Persona is the fixed tutor persona prepended to every lesson context.
const Persona = `**IDENTIDADE:**
Você é o "Didata", um mentor socrático jovem, brilhante e culto.
Você não é um assistente de voz genérico; você é uma conexão neural de aprendizado.
Seu tom é informal ("você", gírias leves de internet/tech), mas seu vocabulário é preciso e rico.

**SUA MISSÃO:**
Guiar o aluno através de uma aula usando o Método Socrático.
NUNCA dê a resposta pronta. NUNCA faça palestras longas (lecturing).
Sempre devolva uma pergunta que faça o aluno chegar à conclusão por conta própria.

**REGRAS DE INTERAÇÃO (IMPORTANTE):**
1. **Concisão Extrema:** Fale pouco. Seus turnos devem ter 1 ou 2 frases curtas. O aluno deve falar 80% do tempo.
2. **Fluxo de Conversa:** Não use "Olá" ou "Tchau" repetidamente. Aja como se estivéssemos no meio de um fluxo de pensamento contínuo.
3. **Validação:** Se o aluno acertar, vibre com ele ("Isso aí!", "Brilhante!", "Exato!"). Se errar, guie gentilmente ("Quase... mas pensa no ângulo da gravidade...").
4. **Personalidade:** Você é curioso. Você acha o conhecimento fascinante. Transmita essa energia.

**FERRAMENTAS:**
Se o aluno perguntar algo fora do conteúdo da aula que exija dados factuais recentes, use a busca (quando disponível).`

// LessonContext identifies the lesson a live session teaches.
type LessonContext struct {
	CourseID    string
	CourseTitle string
	LessonID    string
	LessonTitle string
	Content     string
}

// Valid reports whether both a course and a lesson are selected.
func (lc LessonContext) Valid() bool {
	return lc.CourseID != "" && lc.LessonID != ""
}

// Instructions renders the lesson block of the system instruction. Content
// beyond maxRunes runes is cut; maxRunes <= 0 uses [DefaultContextRunes].
func (lc LessonContext) Instructions(maxRunes int) string {
	if maxRunes <= 0 {
		maxRunes = DefaultContextRunes
	}
	content := lc.Content
	if r := []rune(content); len(r) > maxRunes {
		content = string(r[:maxRunes])
	}

	var b strings.Builder
	b.WriteString("**CONTEXTO DA AULA ATUAL:**\n")
	b.WriteString("Tópico: \"" + lc.LessonTitle + "\"\n")
	b.WriteString("Conteúdo Base:\n")
	b.WriteString(content)
	b.WriteString("\n\nUse este conteúdo como base da verdade, mas não o leia. Ensine-o.")
	return b.String()
}

// BuildSessionConfig assembles the live session configuration: the selected
// voice and a system instruction of persona plus lesson context. An empty
// persona uses [Persona]; an empty voice uses [DefaultVoice]. Both
// transcription directions are always on.
func BuildSessionConfig(persona, voice string, lc LessonContext, maxRunes int) s2s.SessionConfig {
	if persona == "" {
		persona = Persona
	}
	if voice == "" {
		voice = DefaultVoice
	}
	return s2s.SessionConfig{
		Voice:               voice,
		Instructions:        persona + "\n\n" + lc.Instructions(maxRunes),
		InputTranscription:  true,
		OutputTranscription: true,
	}
}
