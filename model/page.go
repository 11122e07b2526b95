package model

// PageKind separates the landing, tutorial and artwork pages.
type PageKind string

const (
	PageKindHome     PageKind = "home"
	PageKindTutorial PageKind = "tutorial"
	PageKindArtwork  PageKind = "artwork"
)

// PageConfig is the static per-page angle configuration. Only the numeric
// fields drive the blur mapper and unlock latch; RotationAngle and Style
// are passed through to the client for rendering.
type PageConfig struct {
	ID    string   `json:"id"`
	Kind  PageKind `json:"kind"`
	Order int      `json:"order"`

	Axis        Axis    `json:"axis"`
	TargetAlpha float64 `json:"targetAlpha"`
	TargetBeta  float64 `json:"targetBeta"`
	TargetGamma float64 `json:"targetGamma"`

	Tolerance      float64 `json:"tolerance"`
	ClearThreshold float64 `json:"clearThreshold"`
	MaxDistance    float64 `json:"maxDistance"`
	MaxBlur        float64 `json:"maxBlur"`

	RotationAngle float64 `json:"rotationAngle"`
	Style         string  `json:"style,omitempty"`
}

// Target identifies what a page asks the visitor to match. Two configs
// with equal targets do not reset an unlock latch.
type Target struct {
	PageID string  `json:"pageId"`
	Axis   Axis    `json:"axis"`
	Alpha  float64 `json:"alpha"`
	Beta   float64 `json:"beta"`
	Gamma  float64 `json:"gamma"`
}

// Target returns the page's orientation target.
func (p PageConfig) Target() Target {
	return Target{
		PageID: p.ID,
		Axis:   p.Axis,
		Alpha:  p.TargetAlpha,
		Beta:   p.TargetBeta,
		Gamma:  p.TargetGamma,
	}
}

// PageContent is the localized text shown on a page.
type PageContent struct {
	Title   string `json:"title" yaml:"title"`
	Artist  string `json:"artist,omitempty" yaml:"artist"`
	Caption string `json:"caption,omitempty" yaml:"caption"`
	Body    string `json:"body,omitempty" yaml:"body"`
}

// MenuEntry is one line of the navigation menu.
type MenuEntry struct {
	PageID string   `json:"pageId"`
	Kind   PageKind `json:"kind"`
	Title  string   `json:"title"`
	Artist string   `json:"artist,omitempty"`
}
