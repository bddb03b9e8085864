package findings

import (
	"encoding/json"
	"regexp"
	"strings"
	"sync"

	"github.com/itchyny/gojq"
	"github.com/tidwall/gjson"
)

var fenceRe = regexp.MustCompile("(?s)```[a-zA-Z]*[ \\t]*\\r?\\n(.*?)```")

// normalizeQuery reshapes the JSON layouts models commonly return (a bare
// array, or an object keyed findings/threats/hazards/...) into a list of
// objects with the Finding field names.
const normalizeQuery = `
def str: if . == null then "" elif type == "string" then . else tostring end;
def strs: if . == null then [] elif type == "array" then map(str) | map(select(. != "")) elif type == "string" then [.] else [tostring] end;
(if type == "array" then .
 elif type == "object" then
   (.findings // .threats // .hazards // .vulnerabilities // .risks // .scenarios
    // (if (.title // .name) != null then [.] else [] end))
 else [] end)
| if type == "array" then . else [] end
| map(select(type == "object") | {
    id: (.id | str),
    title: ((.title // .name // .threat // .hazard) | str),
    description: ((.description // .details // .scenario) | str),
    severity: ((.severity // .risk // .risk_level) | str),
    category: ((.category // .strideCategory // .stride_category // .type) | str),
    mitigations: ((.mitigations // .mitigation // .recommendations // .countermeasures) | strs),
    confidence: ((.confidence // 0) | if type == "number" then . else (try tonumber catch 0) end),
    cweId: ((.cweId // .cwe // .cwe_id) | str)
  })
`

var compiledQuery = sync.OnceValues(func() (*gojq.Code, error) {
	q, err := gojq.Parse(normalizeQuery)
	if err != nil {
		return nil, err
	}
	return gojq.Compile(q, gojq.WithEnvironLoader(func() []string { return nil }))
})

// fromJSON tries each JSON candidate in text and returns the findings of
// the first one that yields any.
func fromJSON(text string) []Finding {
	for _, c := range jsonCandidates(text) {
		if fs := decodeFindings(c); len(fs) > 0 {
			return fs
		}
	}
	return nil
}

// jsonCandidates lists, in order of preference, the fenced code blocks,
// the whole text, and the widest {...} and [...] spans.
func jsonCandidates(text string) []string {
	var out []string
	for _, m := range fenceRe.FindAllStringSubmatch(text, -1) {
		out = append(out, strings.TrimSpace(m[1]))
	}
	out = append(out, strings.TrimSpace(text))
	for _, pair := range [][2]string{{"{", "}"}, {"[", "]"}} {
		i := strings.Index(text, pair[0])
		j := strings.LastIndex(text, pair[1])
		if i >= 0 && j > i {
			out = append(out, text[i:j+1])
		}
	}
	valid := out[:0]
	for _, c := range out {
		if c != "" && gjson.Valid(c) {
			valid = append(valid, c)
		}
	}
	return valid
}

func decodeFindings(payload string) []Finding {
	code, err := compiledQuery()
	if err != nil {
		return nil
	}
	iter := code.Run(gjson.Parse(payload).Value())
	v, ok := iter.Next()
	if !ok {
		return nil
	}
	if _, isErr := v.(error); isErr {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var fs []Finding
	if err := json.Unmarshal(data, &fs); err != nil {
		return nil
	}
	return fs
}
