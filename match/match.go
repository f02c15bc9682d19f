// Package match decides whether stabilized page markup satisfies the domain
// policy of the page's host.
//
// Evaluation follows a fixed table:
//
//  1. lookup     resolve the URL host to a policy
//  2. validity   a policy with no criteria never matches
//  3. narrowing  first element with the class, else first element with the id
//  4. value      first text node in scope matching the value pattern
//  5. verdict    found when every applicable step produced a result
//
// Only one narrowing step runs: class wins over id. Every failure mode,
// including configuration defects, degrades to "not found" with a logged
// diagnostic.
package match

import (
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/hazyhaar/stockwatch/policy"
)

// Evaluator evaluates markup against a policy Set. It never touches a live
// render session.
type Evaluator struct {
	policies policy.Set
	logger   *slog.Logger
}

// New creates an Evaluator over policies.
func New(policies policy.Set, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{policies: policies, logger: logger}
}

// Evaluate reports whether markup, captured from pageURL, carries the
// content described by the host's policy.
func (e *Evaluator) Evaluate(markup, pageURL string) bool {
	p, host, ok := e.policies.LookupURL(pageURL)
	if !ok {
		e.logger.Warn("match: no search information for domain", "host", host, "url", pageURL)
		return false
	}
	if !p.Valid() {
		e.logger.Warn("match: policy needs at least one class, id or value", "host", host)
		return false
	}

	found, step := Match(p, markup)
	e.logger.Debug("match: evaluated", "host", host, "url", pageURL,
		"class", p.Class, "id", p.ID, "value", p.RawValue(), "found", found, "step", step)
	return found
}

// narrowStep restricts the search scope to a single element.
type narrowStep struct {
	name    string
	applies func(policy.Policy) bool
	find    func(scope *goquery.Selection, p policy.Policy) *goquery.Selection
}

// narrowing is ordered by priority; the first applicable step is the only
// one that runs.
var narrowing = []narrowStep{
	{
		name:    "class",
		applies: func(p policy.Policy) bool { return p.Class != "" },
		find:    func(s *goquery.Selection, p policy.Policy) *goquery.Selection { return firstByClass(s, p.Class) },
	},
	{
		name:    "id",
		applies: func(p policy.Policy) bool { return p.ID != "" },
		find:    func(s *goquery.Selection, p policy.Policy) *goquery.Selection { return firstByID(s, p.ID) },
	},
}

// Match applies p to markup and returns the verdict along with the name of
// the last step that ran. The policy is assumed valid.
func Match(p policy.Policy, markup string) (bool, string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return false, "parse"
	}

	scope := doc.Selection
	step := "document"
	for _, n := range narrowing {
		if !n.applies(p) {
			continue
		}
		step = n.name
		scope = n.find(scope, p)
		break
	}
	if scope.Length() == 0 {
		return false, step
	}

	if p.Value != nil {
		return firstMatchingText(scope.Get(0), p) != nil, "value"
	}
	return true, step
}

// firstByClass returns the first descendant whose class list contains
// class, or whose whole class attribute equals it.
func firstByClass(scope *goquery.Selection, class string) *goquery.Selection {
	return scope.Find("[class]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		attr, _ := s.Attr("class")
		if attr == class {
			return true
		}
		for _, c := range strings.Fields(attr) {
			if c == class {
				return true
			}
		}
		return false
	}).First()
}

// firstByID returns the first descendant whose id attribute equals id.
func firstByID(scope *goquery.Selection, id string) *goquery.Selection {
	return scope.Find("[id]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		attr, _ := s.Attr("id")
		return attr == id
	}).First()
}

// firstMatchingText walks root's descendants in document order and returns
// the first text node matched by the policy's value pattern.
func firstMatchingText(root *html.Node, p policy.Policy) *html.Node {
	var found *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil && found == nil; c = c.NextSibling {
			if c.Type == html.TextNode && p.Value.MatchString(c.Data) {
				found = c
				return
			}
			walk(c)
		}
	}
	walk(root)
	return found
}
