// Package classify maps free text to a routing verdict. It has no side
// effects and never touches the store.
package classify

import (
	"strings"
)

type Category string

const (
	Financial  Category = "financial"
	Credential Category = "credential"
	Danger     Category = "danger"
	None       Category = "none"
)

// Rule is one keyword set. Rules are checked in order and the first one with
// a matching keyword wins.
type Rule struct {
	Category Category
	Keywords []string
}

var DefaultRules = []Rule{
	{Category: Financial, Keywords: []string{
		"cvv", "otp", "upi pin", "netbanking", "debit card", "credit card", "atm pin",
		"debited", "credited", "balance", "transaction", "account", "bank", "withdraw",
		"deposit", "avail bal", "txn", "acct",
	}},
	{Category: Credential, Keywords: []string{
		"password", "passwd", "login", "signin",
		"facebook", "instagram", "snapchat", "twitter", "whatsapp",
	}},
	{Category: Danger, Keywords: []string{
		"suicide", "kill", "drugs", "die", "murder", "harm", "self-harm",
	}},
}

type Engine struct {
	rules []Rule
}

func New(rules []Rule) *Engine {
	normalized := make([]Rule, len(rules))
	for i, r := range rules {
		kws := make([]string, len(r.Keywords))
		for j, k := range r.Keywords {
			kws[j] = strings.ToLower(k)
		}
		normalized[i] = Rule{Category: r.Category, Keywords: kws}
	}
	return &Engine{rules: normalized}
}

func Default() *Engine { return New(DefaultRules) }

// Result carries the verdict and the text that was actually scanned.
type Result struct {
	Category   Category
	Keyword    string
	Compressed bool
	Scanned    string
}

// Classify scans text, decompressing it first when it looks compressed.
// Decompression failure falls back to the raw text.
func (e *Engine) Classify(text string) Result {
	res := Result{Category: None}
	if text == "" {
		return res
	}

	format := DetectFormat(text)
	scanned := text
	if format.Compressed {
		res.Compressed = true
		if plain, err := Decompress(text); err == nil {
			scanned = plain
		}
	}
	scanned = strings.ToLower(scanned)
	res.Scanned = scanned

	for _, r := range e.rules {
		for _, k := range r.Keywords {
			if strings.Contains(scanned, k) {
				res.Category = r.Category
				res.Keyword = k
				return res
			}
		}
	}
	return res
}

var std = Default()

// Classify runs the default rules.
func Classify(text string) Category {
	return std.Classify(text).Category
}
