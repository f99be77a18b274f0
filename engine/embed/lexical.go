package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultDimensions is used by NewLexical when dim <= 0.
const DefaultDimensions = 1024

// Lexical is a hashed bag-of-tokens embedder. It needs no network and is
// fully deterministic, so identical text always yields identical vectors.
type Lexical struct {
	dim int
}

func NewLexical(dim int) *Lexical {
	if dim <= 0 {
		dim = DefaultDimensions
	}
	return &Lexical{dim: dim}
}

func (l *Lexical) Model() string { return fmt.Sprintf("lexical-%d", l.dim) }

func (l *Lexical) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.vector(text), nil
}

func (l *Lexical) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = l.vector(t)
	}
	return out, nil
}

func (l *Lexical) vector(text string) []float32 {
	v := make([]float32, l.dim)
	for _, tok := range Tokens(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		v[h.Sum32()%uint32(l.dim)]++
	}
	return Normalize(v)
}

// Normalize scales v to unit length in place. Zero vectors are returned
// unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
	return v
}

var unitSynonyms = map[string]string{
	"in":     "inch",
	"inches": "inch",
	"ft":     "foot",
	"feet":   "foot",
	"mm":     "millimeter",
	"cm":     "centimeter",
	"lb":     "pound",
	"lbs":    "pound",
}

var wordSynonyms = map[string]string{
	"sch":  "schedule",
	"qty":  "quantity",
	"pcs":  "piece",
	"pc":   "piece",
	"ea":   "each",
	"galv": "galvanized",
	"ss":   "stainless",
}

// Tokens splits text into lowercase letter runs and number runs. Numbers
// keep inner '.' and '/' ("1.5", "1/2"). Inch and foot marks after a number
// become "inch" and "foot", and unit abbreviations after a number are
// spelled out, so `2" PVC` and "2 inch pvc" tokenize identically.
func Tokens(text string) []string {
	rs := []rune(strings.ToLower(text))
	var toks []string
	prevNumber := false

	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsDigit(r):
			j := i + 1
			for j < len(rs) && (unicode.IsDigit(rs[j]) ||
				((rs[j] == '.' || rs[j] == '/') && j+1 < len(rs) && unicode.IsDigit(rs[j+1]))) {
				j++
			}
			toks = append(toks, string(rs[i:j]))
			prevNumber = true

			k := j
			for k < len(rs) && rs[k] == ' ' {
				k++
			}
			if k < len(rs) {
				switch rs[k] {
				case '"', '”', '″':
					toks = append(toks, "inch")
					j, prevNumber = k+1, false
				case '\'', '’', '′':
					if k+1 < len(rs) && rs[k+1] == rs[k] {
						toks = append(toks, "inch")
						j = k + 2
					} else {
						toks = append(toks, "foot")
						j = k + 1
					}
					prevNumber = false
				}
			}
			i = j
		case unicode.IsLetter(r):
			j := i + 1
			for j < len(rs) && unicode.IsLetter(rs[j]) {
				j++
			}
			word := string(rs[i:j])
			if s, ok := unitSynonyms[word]; ok && prevNumber {
				word = s
			} else if s, ok := wordSynonyms[word]; ok {
				word = s
			}
			toks = append(toks, word)
			prevNumber = false
			i = j
		default:
			if !unicode.IsSpace(r) {
				prevNumber = false
			}
			i++
		}
	}
	return toks
}
