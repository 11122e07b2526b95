package kb

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/language"

	"github.com/rheeghang/docent/model"
)

var (
	// ErrPageExists indicates a page with the same ID is already loaded.
	ErrPageExists = errors.New("page already exists")
	// ErrPageNotFound indicates a requested page was not found.
	ErrPageNotFound = errors.New("page not found")
	// ErrContentNotFound indicates no translation exists for a page.
	ErrContentNotFound = errors.New("content not found")
)

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventPageUpdated EventType = iota
	EventContentUpdated
)

// Event is emitted to subscribers when pages or content change.
type Event struct {
	Type     EventType
	Page     model.PageConfig
	Language string
}

// KnowledgeBase is an in-memory, thread-safe store for page configs and
// their per-language content.
type KnowledgeBase struct {
	mu sync.RWMutex

	defaultLang string
	pages       map[string]*model.PageConfig
	// content is keyed by canonical language tag, then page ID.
	content map[string]map[string]model.PageContent

	subs map[int]func(Event)
	next int
}

// NewKnowledgeBase constructs an empty KB. Lookups for a missing
// translation fall back to defaultLang.
func NewKnowledgeBase(defaultLang string) *KnowledgeBase {
	return &KnowledgeBase{
		defaultLang: CanonicalLanguage(defaultLang),
		pages:       make(map[string]*model.PageConfig),
		content:     make(map[string]map[string]model.PageContent),
		subs:        make(map[int]func(Event)),
	}
}

// CanonicalLanguage reduces a BCP 47 tag to its base language ("ko-KR" →
// "ko"). Unparseable input is returned lower-cased and trimmed.
func CanonicalLanguage(lang string) string {
	lang = strings.TrimSpace(lang)
	tag, err := language.Parse(lang)
	if err != nil {
		return strings.ToLower(lang)
	}
	base, _ := tag.Base()
	return base.String()
}

// DefaultLanguage returns the fallback language.
func (kb *KnowledgeBase) DefaultLanguage() string {
	return kb.defaultLang
}

// AddPage adds a page config. It returns ErrPageExists if the ID is taken.
func (kb *KnowledgeBase) AddPage(p model.PageConfig) error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("page id is required")
	}
	kb.mu.Lock()
	if _, exists := kb.pages[p.ID]; exists {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrPageExists, p.ID)
	}
	stored := p
	kb.pages[p.ID] = &stored
	subs := kb.subscribers()
	kb.mu.Unlock()

	notify(subs, Event{Type: EventPageUpdated, Page: p})
	return nil
}

// PutPage inserts or replaces a page config.
func (kb *KnowledgeBase) PutPage(p model.PageConfig) error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("page id is required")
	}
	kb.mu.Lock()
	stored := p
	kb.pages[p.ID] = &stored
	subs := kb.subscribers()
	kb.mu.Unlock()

	notify(subs, Event{Type: EventPageUpdated, Page: p})
	return nil
}

// GetPage returns a copy of the page with the given ID.
func (kb *KnowledgeBase) GetPage(id string) (model.PageConfig, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	p, ok := kb.pages[id]
	if !ok {
		return model.PageConfig{}, fmt.Errorf("%w: %q", ErrPageNotFound, id)
	}
	return *p, nil
}

// ListPages returns all pages sorted by Order, then ID.
func (kb *KnowledgeBase) ListPages() []model.PageConfig {
	kb.mu.RLock()
	res := make([]model.PageConfig, 0, len(kb.pages))
	for _, p := range kb.pages {
		res = append(res, *p)
	}
	kb.mu.RUnlock()

	sort.Slice(res, func(i, j int) bool {
		if res[i].Order != res[j].Order {
			return res[i].Order < res[j].Order
		}
		return res[i].ID < res[j].ID
	})
	return res
}

// PutContent stores the translation of one page.
func (kb *KnowledgeBase) PutContent(lang, pageID string, c model.PageContent) {
	lang = CanonicalLanguage(lang)
	kb.mu.Lock()
	byPage, ok := kb.content[lang]
	if !ok {
		byPage = make(map[string]model.PageContent)
		kb.content[lang] = byPage
	}
	byPage[pageID] = c
	var page model.PageConfig
	if p, ok := kb.pages[pageID]; ok {
		page = *p
	} else {
		page.ID = pageID
	}
	subs := kb.subscribers()
	kb.mu.Unlock()

	notify(subs, Event{Type: EventContentUpdated, Page: page, Language: lang})
}

// Content returns the page text in lang, falling back to the default
// language. The returned string is the language actually served.
func (kb *KnowledgeBase) Content(lang, pageID string) (model.PageContent, string, error) {
	lang = CanonicalLanguage(lang)
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	for _, l := range []string{lang, kb.defaultLang} {
		if c, ok := kb.content[l][pageID]; ok {
			return c, l, nil
		}
	}
	return model.PageContent{}, "", fmt.Errorf("%w: page %q lang %q", ErrContentNotFound, pageID, lang)
}

// Languages lists the languages that have at least one translation.
func (kb *KnowledgeBase) Languages() []string {
	kb.mu.RLock()
	res := make([]string, 0, len(kb.content))
	for l := range kb.content {
		res = append(res, l)
	}
	kb.mu.RUnlock()
	sort.Strings(res)
	return res
}

// Menu builds the navigation menu in lang. Pages without any translation
// are listed by ID.
func (kb *KnowledgeBase) Menu(lang string) []model.MenuEntry {
	pages := kb.ListPages()
	menu := make([]model.MenuEntry, 0, len(pages))
	for _, p := range pages {
		entry := model.MenuEntry{PageID: p.ID, Kind: p.Kind, Title: p.ID}
		if c, _, err := kb.Content(lang, p.ID); err == nil {
			entry.Title = c.Title
			entry.Artist = c.Artist
		}
		menu = append(menu, entry)
	}
	return menu
}

// Subscribe registers a callback for KB events. It returns an unsubscribe function.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	id := kb.next
	kb.next++
	kb.subs[id] = fn

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		delete(kb.subs, id)
	}
}

// subscribers snapshots callbacks; callers hold kb.mu.
func (kb *KnowledgeBase) subscribers() []func(Event) {
	subs := make([]func(Event), 0, len(kb.subs))
	for _, fn := range kb.subs {
		subs = append(subs, fn)
	}
	return subs
}

// notify runs outside the lock so subscribers may call back into the KB.
func notify(subs []func(Event), ev Event) {
	for _, sub := range subs {
		sub(ev)
	}
}
