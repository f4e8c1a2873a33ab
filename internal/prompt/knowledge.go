package prompt

import (
	"context"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/hivemind/internal/store"
)

// DefaultMaxDocuments caps knowledge injection when config leaves it unset.
const DefaultMaxDocuments = 8

// Injector selects long-term documents for a task from keyword and scope
// filters. Ranking (importance DESC, created_at DESC) happens in the store;
// the injector derives keywords, builds the scope chain, and enforces the
// prompt budget.
type Injector struct {
	docs    store.DocumentStore
	maxDocs int
}

func NewInjector(docs store.DocumentStore, maxDocs int) *Injector {
	if maxDocs <= 0 {
		maxDocs = DefaultMaxDocuments
	}
	return &Injector{docs: docs, maxDocs: maxDocs}
}

// Select returns the documents to inject, trimmed so their combined content
// fits budgetChars. Lowest-importance documents are dropped first.
func (i *Injector) Select(ctx context.Context, task *store.TaskData, agent *store.AgentData, projectID *uuid.UUID, budgetChars int) ([]store.DocumentData, error) {
	keywords := TaskKeywords(task)
	if len(keywords) == 0 {
		return nil, nil
	}

	scopes := []store.ScopeRef{{Scope: store.DocScopeOrganization}}
	if agent.TeamID != nil {
		scopes = append(scopes, store.ScopeRef{Scope: store.DocScopeTeam, ScopeID: agent.TeamID})
	}
	if projectID != nil {
		scopes = append(scopes, store.ScopeRef{Scope: store.DocScopeProject, ScopeID: projectID})
	}
	agentID := agent.ID
	scopes = append(scopes, store.ScopeRef{Scope: store.DocScopeAgent, ScopeID: &agentID})

	docs, err := i.docs.Search(ctx, agent.OrgID, scopes, keywords, i.maxDocs)
	if err != nil {
		return nil, err
	}
	return trimToBudget(docs, budgetChars), nil
}

// trimToBudget drops documents from the tail (lowest importance, given the
// store's ordering) until the combined content fits.
func trimToBudget(docs []store.DocumentData, budgetChars int) []store.DocumentData {
	if budgetChars <= 0 {
		return docs
	}
	total := 0
	for _, d := range docs {
		total += len(d.Content)
	}
	for len(docs) > 0 && total > budgetChars {
		total -= len(docs[len(docs)-1].Content)
		docs = docs[:len(docs)-1]
	}
	return docs
}

// TaskKeywords tokenizes title and description and unions the declared
// required skills and tags. Tokens shorter than 3 runes are noise.
func TaskKeywords(task *store.TaskData) []string {
	seen := make(map[string]bool)
	var keywords []string
	add := func(word string) {
		word = strings.ToLower(strings.TrimSpace(word))
		if len([]rune(word)) < 3 || seen[word] {
			return
		}
		seen[word] = true
		keywords = append(keywords, word)
	}

	tokens := strings.FieldsFunc(task.Title+" "+task.Description, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, t := range tokens {
		add(t)
	}
	for _, s := range task.RequiredSkills {
		add(s)
	}
	for _, t := range task.Tags {
		add(t)
	}
	return keywords
}
