package workflow

import "github.com/google/uuid"

// Rect is an axis aligned rectangle in layout space.
type Rect struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Annotation is a non-functional visual note attached to a container. It
// has no execution semantics but belongs to the workflow's persisted
// content.
type Annotation interface {
	// ID returns the annotation's unique identifier.
	ID() uuid.UUID
	// ParentNode returns the containing MetaNode, or nil when detached.
	ParentNode() *MetaNode
	// Workflow returns the owning Scheme, or nil when detached.
	Workflow() *Scheme
	// Subscribe registers an observer for this annotation's events.
	Subscribe(fn func(Event)) func()

	annotationBase() *element
}

// TextAnnotation is a rectangular text note.
type TextAnnotation struct {
	element
	rect        Rect
	text        string
	contentType string
}

// NewTextAnnotation creates a text annotation. contentType describes the
// text markup ("text/plain" when empty).
func NewTextAnnotation(rect Rect, text, contentType string) *TextAnnotation {
	if contentType == "" {
		contentType = "text/plain"
	}
	return &TextAnnotation{
		element:     newElement(),
		rect:        rect,
		text:        text,
		contentType: contentType,
	}
}

func (a *TextAnnotation) annotationBase() *element { return &a.element }

// Rect returns the annotation's geometry.
func (a *TextAnnotation) Rect() Rect { return a.rect }

// SetRect sets the annotation's geometry.
func (a *TextAnnotation) SetRect(rect Rect) { a.rect = rect }

// Text returns the annotation text.
func (a *TextAnnotation) Text() string { return a.text }

// SetText sets the annotation text.
func (a *TextAnnotation) SetText(text string) { a.text = text }

// ContentType returns the markup content type of the text.
func (a *TextAnnotation) ContentType() string { return a.contentType }

// ArrowAnnotation is an arrow drawn between two layout points.
type ArrowAnnotation struct {
	element
	start Point
	end   Point
	color string
}

// NewArrowAnnotation creates an arrow annotation. The color defaults to
// "red" when empty.
func NewArrowAnnotation(start, end Point, color string) *ArrowAnnotation {
	if color == "" {
		color = "red"
	}
	return &ArrowAnnotation{
		element: newElement(),
		start:   start,
		end:     end,
		color:   color,
	}
}

func (a *ArrowAnnotation) annotationBase() *element { return &a.element }

// Start returns the arrow's base point.
func (a *ArrowAnnotation) Start() Point { return a.start }

// End returns the arrow's tip point.
func (a *ArrowAnnotation) End() Point { return a.end }

// SetLine sets the arrow's base and tip points.
func (a *ArrowAnnotation) SetLine(start, end Point) {
	a.start = start
	a.end = end
}

// Color returns the arrow color.
func (a *ArrowAnnotation) Color() string { return a.color }

// SetColor sets the arrow color.
func (a *ArrowAnnotation) SetColor(color string) { a.color = color }
