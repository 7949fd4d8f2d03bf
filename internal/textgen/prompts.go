package textgen

import (
	"fmt"

	"github.com/didata-ai/didata/pkg/provider/llm"
)

// Input limits in runes.
const (
	SourceLimit  = 30000
	ContentLimit = 20000
)

// LessonThinkingBudget is the reasoning budget for lesson generation.
const LessonThinkingBudget = 16000

// Fallback replies. The lesson and search operations return these instead of
// an error.
const (
	EmptyLessonText = "Erro ao gerar conteúdo."
	LessonErrorText = "Ocorreu um erro ao gerar o conteúdo desta aula. Por favor, tente novamente."
	EmptySearchText = "Nenhum resultado encontrado."
	SearchErrorText = "Desculpe, ocorreu um erro ao tentar pesquisar o conteúdo. Por favor, tente novamente."
)

// courseSchema constrains the outline reply.
var courseSchema = &llm.Schema{
	Type: "object",
	Properties: map[string]*llm.Schema{
		"topic":       {Type: "string", Description: "The main topic or subject of the course."},
		"title":       {Type: "string", Description: "The main title of the course."},
		"description": {Type: "string", Description: "A short, engaging description of the course."},
		"modules": {
			Type:        "array",
			Description: "A list of modules, each representing a main section of the course.",
			Items: &llm.Schema{
				Type: "object",
				Properties: map[string]*llm.Schema{
					"title": {Type: "string", Description: "The title of the module."},
					"lessons": {
						Type:        "array",
						Description: "A list of lessons within the module.",
						Items: &llm.Schema{
							Type: "object",
							Properties: map[string]*llm.Schema{
								"title": {Type: "string", Description: "The title of the lesson."},
							},
							Required: []string{"title"},
						},
					},
				},
				Required: []string{"title", "lessons"},
			},
		},
	},
	Required: []string{"topic", "title", "description", "modules"},
}

func coursePrompt(source string) string {
	return `Você é um Arquiteto Pedagógico de IA. Sua missão é analisar o texto fornecido e projetar a estrutura de um curso online. Você deve operar com base em princípios de Design Instrucional, como o modelo ADDIE e a Taxonomia de Bloom, para garantir uma jornada de aprendizado lógica e eficaz.

Siga estas etapas:
1.  **Análise:** Identifique os temas centrais, o público-alvo implícito e os principais objetivos de aprendizado contidos no texto.
2.  **Design Estrutural:** Organize o conteúdo em uma hierarquia de Módulos e Aulas. A sequência deve seguir uma progressão de complexidade cognitiva, começando com conceitos fundamentais e avançando para tópicos mais aplicados ou complexos.
3.  **Saída:** Gere um título de curso atraente, identifique o tópico principal, crie uma descrição concisa e a estrutura de módulos e aulas.

Texto para análise:
---
` + truncate(source, SourceLimit) + `
---
`
}

func lessonPrompt(title string) string {
	return fmt.Sprintf(`Você é o "Didata", uma IA geradora de conteúdo educacional de elite. Sua tarefa é criar um conteúdo de aula detalhado sobre: "%s".

**REGRAS OBRIGATÓRIAS DE FORMATAÇÃO DE ALERTAS:**

Para Notas, Dicas, Avisos ou Reflexões, use a sintaxe de blockquote do GitHub.

O formato deve ser ESTRITAMENTE este (com a quebra de linha OBRIGATÓRIA):

> [!NOTE]
> Escreva o texto aqui na linha de baixo.

> [!TIP]
> Dica aqui.

> [!IMPORTANT]
> Coisa importante.

> [!WARNING]
> Aviso de perigo.

> [!QUESTION]
> Pergunta reflexiva.

**PROIBIDO:**
NUNCA coloque o texto na mesma linha do marcador.
ERRADO: > [!NOTE] Texto
CERTO:
> [!NOTE]
> Texto

**Conteúdo:**
Seja profundo, didático e claro. Use Markdown padrão.`, title)
}

func searchPrompt(query, content string) string {
	return fmt.Sprintf(`Você é um assistente de estudos. Responda à busca "%s" com base no conteúdo abaixo.
Use o formato de alerta correto para o resumo:

> [!NOTE]
> Resumo da resposta aqui.

Conteúdo:
---
%s
---
`, query, truncate(content, ContentLimit))
}

// truncate keeps at most n runes of s.
func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
