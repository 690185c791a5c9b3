package smartbits

import (
	"context"
	"fmt"
	"net/url"

	"github.com/sage3/foresight/errors"
)

// App types understood out of the box.
const (
	TypeCounter     = "Counter"
	TypeStickie     = "Stickie"
	TypeSlider      = "Slider"
	TypePDFViewer   = "PDFViewer"
	TypeImageViewer = "ImageViewer"
	TypeWebview     = "Webview"
	TypeCodeCell    = "CodeCell"
	TypeSageCell    = "SageCell"
)

type CounterState struct {
	Count int `json:"count"`
}

type StickieState struct {
	Text     string `json:"text"`
	FontSize int    `json:"fontSize,omitempty"`
	Color    string `json:"color,omitempty"`
}

type SliderState struct {
	Value float64 `json:"value"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

type PDFViewerState struct {
	AssetID     string `json:"assetid"`
	CurrentPage int    `json:"currentPage"`
	NumPages    int    `json:"numPages"`
}

type ImageViewerState struct {
	AssetID string `json:"assetid"`
	URL     string `json:"url,omitempty"`
}

type WebviewState struct {
	URL string `json:"webviewurl"`
}

// RegisterDefaults registers every built-in variant on f.
func RegisterDefaults(f *Factory) {
	f.Register(TypeCounter, Variant(TypeCounter, counterActions))
	f.Register(TypeStickie, Variant(TypeStickie, stickieActions))
	f.Register(TypeSlider, Variant(TypeSlider, sliderActions))
	f.Register(TypePDFViewer, Variant(TypePDFViewer, pdfActions))
	f.Register(TypeImageViewer, Variant(TypeImageViewer, imageActions))
	f.Register(TypeWebview, Variant(TypeWebview, webviewActions))
	f.Register(TypeCodeCell, Variant(TypeCodeCell, codeCellActions))
	// SAGE3 boards name the Jupyter cell SageCell.
	f.Register(TypeSageCell, Variant(TypeSageCell, codeCellActions))
}

var counterActions = map[string]Action[CounterState]{
	"increment": func(ctx context.Context, app *App[CounterState], params map[string]interface{}) error {
		step := intParam(params, "step", 1)
		app.Mutate(func(s *CounterState) { s.Count += step })
		return app.Publish(ctx)
	},
	"decrement": func(ctx context.Context, app *App[CounterState], params map[string]interface{}) error {
		step := intParam(params, "step", 1)
		app.Mutate(func(s *CounterState) { s.Count -= step })
		return app.Publish(ctx)
	},
	"reset": func(ctx context.Context, app *App[CounterState], _ map[string]interface{}) error {
		app.Mutate(func(s *CounterState) { s.Count = 0 })
		return app.Publish(ctx)
	},
}

var stickieActions = map[string]Action[StickieState]{
	"set_text": func(ctx context.Context, app *App[StickieState], params map[string]interface{}) error {
		text, ok := params["text"].(string)
		if !ok {
			return missingParam(app.Type(), "set_text", "text")
		}
		app.Mutate(func(s *StickieState) { s.Text = text })
		return app.Publish(ctx)
	},
	"set_color": func(ctx context.Context, app *App[StickieState], params map[string]interface{}) error {
		color, ok := params["color"].(string)
		if !ok || color == "" {
			return missingParam(app.Type(), "set_color", "color")
		}
		app.Mutate(func(s *StickieState) { s.Color = color })
		return app.Publish(ctx)
	},
}

var sliderActions = map[string]Action[SliderState]{
	"set_value": func(ctx context.Context, app *App[SliderState], params map[string]interface{}) error {
		v, ok := floatParam(params, "value")
		if !ok {
			return missingParam(app.Type(), "set_value", "value")
		}
		app.Mutate(func(s *SliderState) {
			if s.Max > s.Min {
				v = clamp(v, s.Min, s.Max)
			}
			s.Value = v
		})
		return app.Publish(ctx)
	},
}

var pdfActions = map[string]Action[PDFViewerState]{
	"next_page": func(ctx context.Context, app *App[PDFViewerState], _ map[string]interface{}) error {
		app.Mutate(func(s *PDFViewerState) {
			if s.CurrentPage < s.NumPages-1 {
				s.CurrentPage++
			}
		})
		return app.Publish(ctx)
	},
	"prev_page": func(ctx context.Context, app *App[PDFViewerState], _ map[string]interface{}) error {
		app.Mutate(func(s *PDFViewerState) {
			if s.CurrentPage > 0 {
				s.CurrentPage--
			}
		})
		return app.Publish(ctx)
	},
	"goto_page": func(ctx context.Context, app *App[PDFViewerState], params map[string]interface{}) error {
		page, ok := floatParam(params, "page")
		if !ok {
			return missingParam(app.Type(), "goto_page", "page")
		}
		var err error
		app.Mutate(func(s *PDFViewerState) {
			p := int(page)
			if p < 0 || (s.NumPages > 0 && p >= s.NumPages) {
				err = errors.New(errors.ErrCodeInvalidInput,
					fmt.Sprintf("page %d outside document of %d pages", p, s.NumPages))
				return
			}
			s.CurrentPage = p
		})
		if err != nil {
			return err
		}
		return app.Publish(ctx)
	},
}

var imageActions = map[string]Action[ImageViewerState]{
	"set_asset": func(ctx context.Context, app *App[ImageViewerState], params map[string]interface{}) error {
		id, ok := params["assetid"].(string)
		if !ok || id == "" {
			return missingParam(app.Type(), "set_asset", "assetid")
		}
		app.Mutate(func(s *ImageViewerState) {
			s.AssetID = id
			s.URL = ""
		})
		return app.Publish(ctx)
	},
}

var webviewActions = map[string]Action[WebviewState]{
	"navigate": func(ctx context.Context, app *App[WebviewState], params map[string]interface{}) error {
		raw, ok := params["url"].(string)
		if !ok {
			return missingParam(app.Type(), "navigate", "url")
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("not a web address: %q", raw))
		}
		app.Mutate(func(s *WebviewState) { s.URL = u.String() })
		return app.Publish(ctx)
	},
}

func missingParam(appType, action, name string) error {
	return errors.New(errors.ErrCodeInvalidInput,
		fmt.Sprintf("%s.%s requires parameter '%s'", appType, action, name))
}

func intParam(params map[string]interface{}, key string, def int) int {
	if v, ok := floatParam(params, key); ok {
		return int(v)
	}
	return def
}

func floatParam(params map[string]interface{}, key string) (float64, bool) {
	switch v := params[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
