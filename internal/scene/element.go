package scene

import "encoding/json"

// Kind discriminates the element union.
type Kind string

const (
	KindRectangle Kind = "rectangle"
	KindEllipse   Kind = "ellipse"
	KindDiamond   Kind = "diamond"
	KindText      Kind = "text"
	KindImage     Kind = "image"
	KindFreehand  Kind = "freehand"
)

// Style holds the visual attributes shared by every element kind. The sync
// engine never interprets these, it only copies them.
type Style struct {
	StrokeColor     string  `json:"strokeColor,omitempty"`
	BackgroundColor string  `json:"backgroundColor,omitempty"`
	FillStyle       string  `json:"fillStyle,omitempty"`
	StrokeWidth     float64 `json:"strokeWidth,omitempty"`
	Opacity         float64 `json:"opacity,omitempty"`
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// TextDetail is the payload for KindText elements.
type TextDetail struct {
	Text       string  `json:"text"`
	FontSize   float64 `json:"fontSize,omitempty"`
	FontFamily string  `json:"fontFamily,omitempty"`
}

// ImageDetail is the payload for KindImage elements. FileID references a
// binary asset stored outside the scene.
type ImageDetail struct {
	FileID string `json:"fileId"`
	Status string `json:"status,omitempty"`
}

// FreehandDetail is the payload for KindFreehand strokes. Points are relative
// to the element origin.
type FreehandDetail struct {
	Points []Point `json:"points"`
}

// Element is one visual object in the shared scene. The base fields (ID,
// Version, IsDeleted, Locked) drive synchronization; everything else is an
// opaque payload adopted wholesale on merge. Exactly one of the detail
// pointers is set, matching Kind; plain shapes carry none.
type Element struct {
	ID        string `json:"id"`
	Version   int64  `json:"version"`
	IsDeleted bool   `json:"isDeleted,omitempty"`
	Locked    bool   `json:"locked,omitempty"`

	Kind   Kind    `json:"kind"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Angle  float64 `json:"angle,omitempty"`
	Style  Style   `json:"style"`

	Text     *TextDetail     `json:"text,omitempty"`
	Image    *ImageDetail    `json:"image,omitempty"`
	Freehand *FreehandDetail `json:"freehand,omitempty"`
}

// Clone returns a deep copy, so adopted elements never alias caller memory.
func (e Element) Clone() Element {
	out := e
	if e.Text != nil {
		t := *e.Text
		out.Text = &t
	}
	if e.Image != nil {
		img := *e.Image
		out.Image = &img
	}
	if e.Freehand != nil {
		f := FreehandDetail{Points: make([]Point, len(e.Freehand.Points))}
		copy(f.Points, e.Freehand.Points)
		out.Freehand = &f
	}
	return out
}

// Collaborator is a live peer shown on the canvas. It is ephemeral view state
// and must never be persisted.
type Collaborator struct {
	PeerID string `json:"peerId"`
	Name   string `json:"name,omitempty"`
}

// ViewState is the non-element scene state (canvas background, viewport).
type ViewState struct {
	ViewBackgroundColor string         `json:"viewBackgroundColor,omitempty"`
	ScrollX             float64        `json:"scrollX,omitempty"`
	ScrollY             float64        `json:"scrollY,omitempty"`
	Zoom                float64        `json:"zoom,omitempty"`
	Theme               string         `json:"theme,omitempty"`
	Collaborators       []Collaborator `json:"collaborators,omitempty"`
}

// Sanitized strips fields that are meaningless outside a live session.
func (v ViewState) Sanitized() ViewState {
	v.Collaborators = nil
	return v
}

// Scene is the full element list in z-order plus view state. This is the
// shape that gets persisted and loaded wholesale.
type Scene struct {
	Elements []Element `json:"elements"`
	View     ViewState `json:"appState"`
}

// EncodeScene and DecodeScene are the persistence wire format.
func EncodeScene(sc Scene) ([]byte, error) {
	return json.Marshal(sc)
}

func DecodeScene(data []byte) (Scene, error) {
	var sc Scene
	err := json.Unmarshal(data, &sc)
	return sc, err
}
