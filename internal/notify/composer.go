package notify

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/gpu-mode/kernelboard/internal/leaderboard"
	"github.com/gpu-mode/kernelboard/internal/rankings"
)

var errEmptyTemplatePool = errors.New("notify: template pool is empty")

// TemplateSet holds the message pools for each event kind. Templates use
// text/template syntax over templateData.
type TemplateSet struct {
	Dethrone  []string
	Promotion []string
	Eviction  []string
}

// DefaultTemplates returns the stock message pools.
func DefaultTemplates() TemplateSet {
	return TemplateSet{
		Dethrone: []string{
			"{{.Mention}} just dethroned {{.DisplacedMention}} for **#1** on **{{.Leaderboard}}** ({{.GPU}}) with {{.Score}}! The crown has a new owner.",
			"{{.Mention}} snatches **#1** from {{.DisplacedMention}} on **{{.Leaderboard}}** ({{.GPU}}) with {{.Score}}. Long live the new king.",
			"It's over for {{.DisplacedMention}}: {{.Mention}} takes **#1** on **{{.Leaderboard}}** ({{.GPU}}) with {{.Score}}.",
		},
		Promotion: []string{
			"{{.Mention}} just claimed **#{{.Rank}}** on **{{.Leaderboard}}** ({{.GPU}}) with {{.Score}}! Absolutely cracked.",
			"New challenger at **#{{.Rank}}** on **{{.Leaderboard}}** ({{.GPU}}): {{.Mention}} drops a {{.Score}}. Respect.",
			"{{.Mention}} slides into **#{{.Rank}}** on **{{.Leaderboard}}** ({{.GPU}}) ({{.Score}}). The competition just got real.",
		},
		Eviction: []string{
			"{{.Mention}} got bounced from the top 3 on **{{.Leaderboard}}**. Skill issue? Probably.",
			"RIP {{.Mention}}'s top 3 spot on **{{.Leaderboard}}**. Might want to rethink that kernel.",
			"{{.Mention}} just got evicted from **{{.Leaderboard}}** top 3. Back to the drawing board.",
		},
	}
}

type templateData struct {
	Mention          string
	DisplacedMention string
	Rank             int
	Leaderboard      string
	GPU              string
	Score            string
}

// Message is the text posted for one leaderboard in one cycle.
type Message struct {
	LeaderboardID   int64
	LeaderboardName string
	Content         string
}

// ComposerConfig describes the dependencies of a Composer.
type ComposerConfig struct {
	Templates TemplateSet
	// Rand picks templates; defaults to a time-seeded PCG source.
	Rand *rand.Rand
}

// Composer renders events into human-readable messages.
type Composer struct {
	pools map[rankings.EventKind][]*template.Template
	mu    sync.Mutex
	rng   *rand.Rand
}

// NewComposer parses every template up front and fails on the first invalid one.
func NewComposer(cfg ComposerConfig) (*Composer, error) {
	templates := cfg.Templates
	if len(templates.Dethrone) == 0 && len(templates.Promotion) == 0 && len(templates.Eviction) == 0 {
		templates = DefaultTemplates()
	}
	pools := make(map[rankings.EventKind][]*template.Template, 3)
	for kind, sources := range map[rankings.EventKind][]string{
		rankings.EventDethrone:  templates.Dethrone,
		rankings.EventPromotion: templates.Promotion,
		rankings.EventEviction:  templates.Eviction,
	} {
		if len(sources) == 0 {
			return nil, fmt.Errorf("%w: %s", errEmptyTemplatePool, kind)
		}
		for index, source := range sources {
			parsed, err := template.New(fmt.Sprintf("%s-%d", kind, index)).Option("missingkey=error").Parse(source)
			if err != nil {
				return nil, fmt.Errorf("notify: parse %s template %d: %w", kind, index, err)
			}
			pools[kind] = append(pools[kind], parsed)
		}
	}
	rng := cfg.Rand
	if rng == nil {
		seed := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(seed, seed>>1))
	}
	return &Composer{pools: pools, rng: rng}, nil
}

// Mention renders the chat mention for a user id.
func Mention(userID string) string {
	return fmt.Sprintf("<@%s>", userID)
}

// Compose renders one message per leaderboard, joining its events with newlines.
// Messages follow ascending leaderboard id; events keep their input order.
func (c *Composer) Compose(events []rankings.Event) ([]Message, error) {
	grouped := make(map[int64][]rankings.Event)
	for _, event := range events {
		grouped[event.LeaderboardID] = append(grouped[event.LeaderboardID], event)
	}
	ids := make([]int64, 0, len(grouped))
	for id := range grouped {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	messages := make([]Message, 0, len(ids))
	for _, id := range ids {
		lines := make([]string, 0, len(grouped[id]))
		for _, event := range grouped[id] {
			line, err := c.render(event)
			if err != nil {
				return nil, err
			}
			lines = append(lines, line)
		}
		messages = append(messages, Message{
			LeaderboardID:   id,
			LeaderboardName: grouped[id][0].LeaderboardName,
			Content:         strings.Join(lines, "\n"),
		})
	}
	return messages, nil
}

func (c *Composer) render(event rankings.Event) (string, error) {
	pool, ok := c.pools[event.Kind]
	if !ok {
		return "", fmt.Errorf("notify: unknown event kind %q", event.Kind)
	}
	chosen := pool[c.pick(len(pool))]

	data := templateData{
		Mention:     Mention(event.User.UserID),
		Rank:        event.Rank,
		Leaderboard: event.LeaderboardName,
		GPU:         event.GPUType,
		Score:       leaderboard.FormatScore(event.Score),
	}
	if event.Displaced != nil {
		data.DisplacedMention = Mention(event.Displaced.UserID)
	}

	var buffer bytes.Buffer
	if err := chosen.Execute(&buffer, data); err != nil {
		return "", fmt.Errorf("notify: render %s: %w", event.Kind, err)
	}
	return buffer.String(), nil
}

func (c *Composer) pick(size int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rng.IntN(size)
}
