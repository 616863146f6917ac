package semantic

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Lexicons match against normalized names: lowercase, accents folded and
// every non-alphanumeric run collapsed to a single underscore.
var (
	ignoreLex = regexp.MustCompile(`^_|(^|_)(senha|password|passwd|pwd|secret|segredo|token|api_?key|hash|salt|cpf|cnpj|ssn|tenant|tenant_id|org_id|organization_id|workspace_id|deleted_at|ingested_at|synced_at|etl|airbyte|fivetran)($|_)`)

	timeLex = regexp.MustCompile(`(^|_)(dia|data|date|dt|day|created|criado|criada|updated|atualizado|timestamp|ts|datetime|mes|month|semana|week|periodo|period|hora|time|inicio|start)($|_)|_(at|em|on)$`)

	idLex = regexp.MustCompile(`^id$|_id$|^id_|(^|_)(uuid|guid|codigo|cod|pk)($|_)`)

	statusLex = regexp.MustCompile(`(^|_)(status|situacao|estado|state|stage|etapa|fase|pipeline|step)($|_)`)

	currencyLex = regexp.MustCompile(`(^|_)(valor|value|preco|price|receita|revenue|faturamento|billing|custo|cost|gasto|spend|investimento|investment|amount|montante|ticket|cpl|cac|cpa|cpc|cpm|budget|brl|usd|reais|salario|pagamento|payment)($|_)`)

	rateLex = regexp.MustCompile(`(^|_)(taxa|rate|pct|percent|percentual|porcentagem|ratio|conversao|conversion|ctr|cvr|roi|roas|margem|margin)($|_)`)

	countLex = regexp.MustCompile(`(^|_)(total|qtd|quantidade|qty|count|contagem|num|numero|leads|vendas|clicks|cliques|impressoes|impressions|visitas|visits|sessoes|sessions|pedidos|orders|volume|unidades|units)($|_)`)

	dimensionLex = regexp.MustCompile(`(^|_)(canal|channel|origem|origin|source|fonte|campanha|campaign|midia|media|medium|utm|cidade|city|uf|regiao|region|pais|country|produto|product|categoria|category|vendedor|seller|sdr|closer|owner|responsavel|segmento|segment|tipo|type|plataforma|platform|unidade|branch|loja|store|equipe|team|genero|gender|plano|plan|device|dispositivo)($|_)`)

	lowerIsBetterLex = regexp.MustCompile(`(^|_)(custo|cost|cpl|cac|cpa|cpc|cpm|gasto|spend|churn|cancelamento|cancelamentos|perdido|perdidos|lost|bounce)($|_)`)
)

// stageLexicon maps funnel vocabulary to canonical ranks. When several
// entries match, the highest rank wins.
var stageLexicon = []struct {
	rank int
	re   *regexp.Regexp
}{
	{10, regexp.MustCompile(`^leads?$|(^|_)(entrada|entradas|entry|entries|inbound|cadastro|cadastros|signup|sign_up|novo_lead|new_lead)($|_)`)},
	{20, regexp.MustCompile(`(^|_)(contato|contatado|contatada|contacted|contact|mql|respondeu|responded|engajado|engaged)($|_)`)},
	{30, regexp.MustCompile(`(^|_)(qualificado|qualificada|qualificados|qualified|qualificacao|sql|sal)($|_)`)},
	{40, regexp.MustCompile(`(^|_)(agendado|agendada|agendados|agendamento|scheduled|schedule|marcado|marcada|reuniao|meeting|booked)($|_)`)},
	{50, regexp.MustCompile(`(^|_)(realizado|realizada|realizados|compareceu|attended|showed|show)($|_)`)},
	{60, regexp.MustCompile(`(^|_)(proposta|propostas|proposal|orcamento|quote)($|_)`)},
	{70, regexp.MustCompile(`(^|_)(negociacao|negotiation|contrato|contract)($|_)`)},
	{80, regexp.MustCompile(`(^|_)(venda|vendas|vendido|vendida|won|ganho|ganha|fechado|fechada|closed|convertido|convertida|compra|purchase|matricula|matriculado)($|_)`)},
}

// genericStageRank orders flags that are boolean-like but match no stage word.
const genericStageRank = 90

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// normalizeName folds accents and case so lexicons work on any spelling.
func normalizeName(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}
	folded = strings.ToLower(strings.TrimSpace(folded))
	lead := strings.HasPrefix(folded, "_")
	folded = strings.Trim(nonAlnum.ReplaceAllString(folded, "_"), "_")
	if lead {
		return "_" + folded
	}
	return folded
}

// stageRank returns the canonical rank for a stage-like name, or 0.
func stageRank(normalized string) int {
	best := 0
	for _, e := range stageLexicon {
		if e.rank > best && e.re.MatchString(normalized) {
			best = e.rank
		}
	}
	return best
}

// LowerIsBetter reports whether a metric name denotes a cost-like measure.
func LowerIsBetter(name string) bool {
	return lowerIsBetterLex.MatchString(normalizeName(name))
}

// Humanize turns a column name into a display label.
func Humanize(name string) string {
	s := strings.TrimSpace(name)
	s = strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(s)
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return name
	}
	return cases.Title(language.Und).String(s)
}

// IsTemporalName reports whether a column name reads as a date or time.
func IsTemporalName(name string) bool {
	return timeLex.MatchString(normalizeName(name))
}

var kpiPriority = []*regexp.Regexp{
	regexp.MustCompile(`(^|_)(receita|revenue|faturamento|venda|vendas|sales|valor_venda)($|_)`),
	regexp.MustCompile(`(^|_)(leads?|entrada|entradas)($|_)`),
	regexp.MustCompile(`(^|_)(custo|cost|cpl|cac|cpa)($|_)`),
	regexp.MustCompile(`(^|_)(gasto|spend|investimento|investment|budget)($|_)`),
	regexp.MustCompile(`(^|_)(conversao|conversion|taxa|rate|cvr|ctr)($|_)`),
}

// KPIPriority ranks a metric name against the canonical KPI lexicon. Lower
// ranks are shown first; unmatched names rank last.
func KPIPriority(name string) int {
	n := normalizeName(name)
	for i, re := range kpiPriority {
		if re.MatchString(n) {
			return i
		}
	}
	return len(kpiPriority)
}
