// Package commentfilter decides which PR comments reach a Worker's
// feedback prompt, per spec section 4.9.
package commentfilter

import (
	"strings"

	"github.com/teamforge/orchestrator/internal/models"
)

// DefaultAllowedBots are the bot accounts whose comments are kept even
// though they match the bot heuristic below.
var DefaultAllowedBots = []string{"teamforged-review[bot]", "dependabot[bot]"}

// Options configures a filter pass. Use DefaultOptions for the spec's
// defaults (ExcludeAuthor true, AllowedBots DefaultAllowedBots); the
// zero value disables author exclusion and allows no bots at all.
type Options struct {
	ExcludeAuthor bool
	AllowedBots   []string
}

// DefaultOptions returns the spec's default filter configuration.
func DefaultOptions() Options {
	return Options{ExcludeAuthor: true, AllowedBots: DefaultAllowedBots}
}

// Filter returns the subset of comments that should reach a Worker's
// prompt: authored by someone other than prAuthor (when
// ExcludeAuthor), and, if the author looks like a bot, only if that
// bot is on AllowedBots.
func Filter(comments []models.Comment, prAuthor string, opts Options) []models.Comment {
	allowed := make(map[string]bool, len(opts.AllowedBots))
	for _, name := range opts.AllowedBots {
		allowed[name] = true
	}

	out := make([]models.Comment, 0, len(comments))
	for _, c := range comments {
		if opts.ExcludeAuthor && c.Author == prAuthor {
			continue
		}
		if isBot(c.Author) && !allowed[c.Author] {
			continue
		}
		out = append(out, c)
	}
	return out
}

// isBot heuristically detects a bot account purely from its display
// name: a "[bot]" suffix (the GitHub App convention) or "bot"
// appearing anywhere in the name.
func isBot(author string) bool {
	lower := strings.ToLower(author)
	return strings.HasSuffix(lower, "[bot]") || strings.Contains(lower, "bot")
}
