package kb

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rheeghang/docent/core"
	"github.com/rheeghang/docent/model"
)

// ExhibitSummary reports what a load put into the KB. Skipped pages are
// kept out of the KB so they render nothing instead of failing the load.
type ExhibitSummary struct {
	PageIDs   []string
	Skipped   []SkippedPage
	Languages []string
	// Updated lists pages added or replaced by ReloadDir.
	Updated []string
}

// SkippedPage names a page entry rejected during loading.
type SkippedPage struct {
	ID     string
	Reason string
}

// BundleFormat selects the decoder for a content bundle.
type BundleFormat string

const (
	FormatJSON BundleFormat = "json"
	FormatYAML BundleFormat = "yaml"
)

// FormatForPath picks a bundle format from a file extension.
func FormatForPath(p string) (BundleFormat, bool) {
	switch strings.ToLower(path.Ext(p)) {
	case ".json":
		return FormatJSON, true
	case ".yaml", ".yml":
		return FormatYAML, true
	default:
		return "", false
	}
}

// internal JSON shapes, kept unexported so the file format can drift from
// model.PageConfig.
type pagesFileJSON struct {
	Pages []pageJSON `json:"pages"`
}

type pageJSON struct {
	ID    string `json:"id"`
	Kind  string `json:"kind"`
	Order *int   `json:"order"`
	Axis  string `json:"axis"`

	TargetAlpha *float64 `json:"targetAlpha"`
	TargetBeta  float64  `json:"targetBeta"`
	TargetGamma float64  `json:"targetGamma"`

	Tolerance      float64 `json:"tolerance"`
	ClearThreshold float64 `json:"clearThreshold"`
	MaxDistance    float64 `json:"maxDistance"`
	MaxBlur        float64 `json:"maxBlur"`

	RotationAngle float64 `json:"rotationAngle"`
	Style         string  `json:"className"`
}

// LoadPages reads a pages document from r and adds every valid page to kb.
// Only JSON decode errors fail the load; entries with a bad angle
// configuration are reported in Skipped.
func LoadPages(kb *KnowledgeBase, r io.Reader) (*ExhibitSummary, error) {
	if kb == nil {
		return nil, fmt.Errorf("LoadPages: kb is nil")
	}

	var payload pagesFileJSON
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return nil, fmt.Errorf("LoadPages: decode failed: %w", err)
	}

	summary := &ExhibitSummary{PageIDs: make([]string, 0, len(payload.Pages))}
	for i, js := range payload.Pages {
		page, err := js.toModel(i)
		if err == nil {
			err = core.ValidatePage(page)
		}
		if err == nil {
			err = kb.AddPage(page)
		}
		if err != nil {
			summary.Skipped = append(summary.Skipped, SkippedPage{ID: js.ID, Reason: err.Error()})
			continue
		}
		summary.PageIDs = append(summary.PageIDs, page.ID)
	}
	return summary, nil
}

func (js pageJSON) toModel(index int) (model.PageConfig, error) {
	axis, ok := core.ParseAxis(js.Axis)
	if !ok {
		return model.PageConfig{}, fmt.Errorf("%w: page %q has unknown axis %q", core.ErrInvalidPage, js.ID, js.Axis)
	}
	p := model.PageConfig{
		ID:             strings.TrimSpace(js.ID),
		Kind:           kindFromString(js.Kind),
		Order:          index,
		Axis:           axis,
		TargetBeta:     js.TargetBeta,
		TargetGamma:    js.TargetGamma,
		Tolerance:      js.Tolerance,
		ClearThreshold: js.ClearThreshold,
		MaxDistance:    js.MaxDistance,
		MaxBlur:        js.MaxBlur,
		RotationAngle:  js.RotationAngle,
		Style:          js.Style,
	}
	if js.Order != nil {
		p.Order = *js.Order
	}
	if js.TargetAlpha != nil {
		p.TargetAlpha = core.NormalizeDegrees(*js.TargetAlpha)
	} else if axis == model.AxisAlpha {
		return model.PageConfig{}, fmt.Errorf("%w: page %q has no targetAlpha", core.ErrInvalidPage, js.ID)
	}
	return p, nil
}

// kindFromString is tolerant: unknown kinds are artwork pages.
func kindFromString(s string) model.PageKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "home", "landing":
		return model.PageKindHome
	case "tutorial", "guide":
		return model.PageKindTutorial
	default:
		return model.PageKindArtwork
	}
}

// LoadContentBundle reads one language's content bundle, a map of page ID
// to page text, and stores it in kb. It returns the page IDs loaded.
func LoadContentBundle(kb *KnowledgeBase, lang string, r io.Reader, format BundleFormat) ([]string, error) {
	if kb == nil {
		return nil, fmt.Errorf("LoadContentBundle: kb is nil")
	}
	if strings.TrimSpace(lang) == "" {
		return nil, fmt.Errorf("LoadContentBundle: language is required")
	}

	bundle := map[string]model.PageContent{}
	var err error
	switch format {
	case FormatYAML:
		err = yaml.NewDecoder(r).Decode(&bundle)
		if errors.Is(err, io.EOF) {
			err = nil
		}
	default:
		err = json.NewDecoder(r).Decode(&bundle)
	}
	if err != nil {
		return nil, fmt.Errorf("LoadContentBundle %s: decode failed: %w", lang, err)
	}

	ids := make([]string, 0, len(bundle))
	for id, c := range bundle {
		kb.PutContent(lang, id, c)
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// LoadDir loads pages.json and every content/<lang>.{json,yaml,yml} from fsys.
func LoadDir(kb *KnowledgeBase, fsys fs.FS) (*ExhibitSummary, error) {
	f, err := fsys.Open("pages.json")
	if err != nil {
		return nil, fmt.Errorf("open pages.json: %w", err)
	}
	summary, err := LoadPages(kb, f)
	f.Close()
	if err != nil {
		return nil, err
	}

	entries, err := fs.ReadDir(fsys, "content")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return summary, nil
		}
		return nil, fmt.Errorf("read content dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		format, ok := FormatForPath(e.Name())
		if !ok {
			continue
		}
		lang := strings.TrimSuffix(e.Name(), path.Ext(e.Name()))
		bf, err := fsys.Open(path.Join("content", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("open bundle %s: %w", e.Name(), err)
		}
		_, err = LoadContentBundle(kb, lang, bf, format)
		bf.Close()
		if err != nil {
			return nil, err
		}
		summary.Languages = append(summary.Languages, CanonicalLanguage(lang))
	}
	return summary, nil
}

// ReloadDir re-reads fsys into a live kb. Only pages whose config differs
// are replaced; translations are rewritten wholesale. Pages absent from
// fsys stay loaded, and kb is untouched if the load fails.
func ReloadDir(kb *KnowledgeBase, fsys fs.FS) (*ExhibitSummary, error) {
	staged := NewKnowledgeBase(kb.DefaultLanguage())
	summary, err := LoadDir(staged, fsys)
	if err != nil {
		return nil, err
	}

	for _, p := range staged.ListPages() {
		if cur, err := kb.GetPage(p.ID); err == nil && cur == p {
			continue
		}
		if err := kb.PutPage(p); err != nil {
			return nil, fmt.Errorf("replace page %q: %w", p.ID, err)
		}
		summary.Updated = append(summary.Updated, p.ID)
	}
	for lang, byPage := range staged.content {
		for pageID, c := range byPage {
			kb.PutContent(lang, pageID, c)
		}
	}
	return summary, nil
}
