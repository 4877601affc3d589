package server

import (
	"context"
	"encoding/json"
	"fmt"
	"image"

	"github.com/pkg/errors"

	"github.com/ironsheep/doodler-engine/internal/config"
	"github.com/ironsheep/doodler-engine/internal/imaging"
	"github.com/ironsheep/doodler-engine/internal/segment"
)

const defaultOpacity = 0.5

// ToolCallParams represents the parameters for a tools/call MCP request.
type ToolCallParams struct {
	// Name is the tool to invoke (e.g., "image_load", "doodler_segment").
	Name string `json:"name"`

	// Arguments contains the tool-specific parameters as JSON.
	Arguments json.RawMessage `json:"arguments"`
}

// handleToolsCall processes a tools/call request and executes the specified tool.
//
// The response wraps the tool result in MCP's content format:
//
//	{
//	  "content": [{"type": "text", "text": "<JSON result>"}]
//	}
//
// Tool execution errors return a JSON-RPC error response with code -32000.
func (s *Server) handleToolsCall(ctx context.Context, req *MCPRequest) *MCPResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.errorResponse(req.ID, -32602, "Invalid params", err.Error())
	}

	result, err := s.executeTool(ctx, params.Name, params.Arguments)
	if err != nil {
		s.log.Warn().Str("tool", params.Name).Err(err).Msg("tool failed")
		return s.errorResponse(req.ID, -32000, "Tool execution failed", err.Error())
	}

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": mustMarshalJSON(result),
				},
			},
		},
	}
}

// executeTool dispatches tool execution to the appropriate handler function.
func (s *Server) executeTool(ctx context.Context, name string, args json.RawMessage) (interface{}, error) {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	switch name {
	case "image_load":
		return s.handleImageLoad(args)
	case "doodler_segment":
		return s.handleSegment(ctx, args)
	case "doodler_overlay":
		return s.handleOverlay(args)
	case "doodler_label_summary":
		return s.handleLabelSummary(args)
	case "doodler_default_params":
		return s.params, nil
	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

// errorResponse creates a JSON-RPC error response with the given details.
func (s *Server) errorResponse(id interface{}, code int, message, data string) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// mustMarshalJSON converts a value to pretty-printed JSON string.
// Panics are suppressed; on marshal failure, returns an empty string.
func mustMarshalJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

type imageLoadArgs struct {
	Path string `json:"path"`
}

func (s *Server) handleImageLoad(args json.RawMessage) (interface{}, error) {
	var a imageLoadArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.Path == "" {
		return nil, errors.New("path is required")
	}
	return imaging.LoadImageInfo(s.cache, a.Path)
}

type segmentArgs struct {
	ImagePath     string          `json:"image_path"`
	DoodlesPath   string          `json:"doodles_path"`
	OutputPath    string          `json:"output_path"`
	OverlayPath   string          `json:"overlay_path"`
	Params        json.RawMessage `json:"params"`
	ReturnOverlay bool            `json:"return_overlay"`
	Opacity       *float64        `json:"opacity"`
}

// ClassSummary describes one output label.
type ClassSummary struct {
	Label    uint8   `json:"label"`
	Pixels   int     `json:"pixels"`
	Fraction float64 `json:"fraction"`
	Color    string  `json:"color"`
}

// SegmentResult is returned by doodler_segment.
type SegmentResult struct {
	Width         int                   `json:"width"`
	Height        int                   `json:"height"`
	Method        segment.Method        `json:"method"`
	DoodleClasses []uint8               `json:"doodle_classes"`
	Classes       []ClassSummary        `json:"classes"`
	Samples       int                   `json:"samples"`
	TimingsMS     map[string]int64      `json:"timings_ms"`
	LabelPath     string                `json:"label_path,omitempty"`
	OverlayPath   string                `json:"overlay_path,omitempty"`
	Overlay       *imaging.RenderResult `json:"overlay,omitempty"`
}

// mergeParams overlays a partial JSON object on the server defaults.
func (s *Server) mergeParams(raw json.RawMessage) (config.Params, error) {
	p := s.params
	if len(raw) == 0 || string(raw) == "null" {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, errors.Wrap(err, "invalid params")
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

func (s *Server) handleSegment(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a segmentArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.ImagePath == "" || a.DoodlesPath == "" {
		return nil, errors.New("image_path and doodles_path are required")
	}
	params, err := s.mergeParams(a.Params)
	if err != nil {
		return nil, err
	}

	img, err := s.cache.Load(a.ImagePath)
	if err != nil {
		return nil, err
	}
	doodles, err := imaging.LoadDoodles(a.DoodlesPath, s.palette, imaging.DefaultMatchTolerance)
	if err != nil {
		return nil, err
	}

	seg, err := segment.New(s.log, params)
	if err != nil {
		return nil, err
	}
	res, err := seg.Segment(ctx, imaging.RasterFromImage(img), doodles)
	if err != nil {
		return nil, err
	}

	out := &SegmentResult{
		Width:         res.Labels.Width,
		Height:        res.Labels.Height,
		Method:        res.Method,
		DoodleClasses: res.DoodleClasses,
		Classes:       s.summarize(res.Labels),
		Samples:       res.Samples,
		TimingsMS: map[string]int64{
			"features":   res.Timings.Features.Milliseconds(),
			"training":   res.Timings.Training.Milliseconds(),
			"prediction": res.Timings.Prediction.Milliseconds(),
			"crf":        res.Timings.CRF.Milliseconds(),
			"total":      res.Timings.Total.Milliseconds(),
		},
	}

	if a.OutputPath != "" {
		if err := imaging.SaveLabels(a.OutputPath, res.Labels); err != nil {
			return nil, err
		}
		out.LabelPath = a.OutputPath
	}

	if a.OverlayPath != "" || a.ReturnOverlay {
		render, err := s.renderOverlay(img, res.Labels, opacityOr(a.Opacity), a.OverlayPath, a.ReturnOverlay)
		if err != nil {
			return nil, err
		}
		out.OverlayPath = render.Path
		if a.ReturnOverlay {
			out.Overlay = render
		}
	}
	return out, nil
}

// opacityOr returns the requested opacity, or the default when the argument
// was omitted.
func opacityOr(v *float64) float64 {
	if v == nil {
		return defaultOpacity
	}
	return *v
}

// renderOverlay blends 0-based labels over img, optionally saving and
// encoding the result.
func (s *Server) renderOverlay(img image.Image, labels *imaging.LabelMap, opacity float64, path string, encode bool) (*imaging.RenderResult, error) {
	ov, err := imaging.Overlay(img, imaging.ShiftLabels(labels, 1), s.palette, opacity)
	if err != nil {
		return nil, err
	}
	render := &imaging.RenderResult{
		Width:    ov.Bounds().Dx(),
		Height:   ov.Bounds().Dy(),
		MimeType: "image/png",
	}
	if path != "" {
		if err := imaging.SavePNG(path, ov); err != nil {
			return nil, err
		}
		render.Path = path
	}
	if encode {
		b64, err := imaging.EncodePNGBase64(ov)
		if err != nil {
			return nil, err
		}
		render.ImageBase64 = b64
	}
	return render, nil
}

func (s *Server) summarize(labels *imaging.LabelMap) []ClassSummary {
	counts := labels.Counts()
	total := float64(len(labels.Pix))
	out := make([]ClassSummary, 0, len(counts))
	for v := 0; v < 256; v++ {
		n, ok := counts[uint8(v)]
		if !ok {
			continue
		}
		out = append(out, ClassSummary{
			Label:    uint8(v),
			Pixels:   n,
			Fraction: float64(n) / total,
			Color:    s.palette.Hex(uint8(v) + 1),
		})
	}
	return out
}

type overlayArgs struct {
	ImagePath  string   `json:"image_path"`
	LabelPath  string   `json:"label_path"`
	OutputPath string   `json:"output_path"`
	Opacity    *float64 `json:"opacity"`
}

func (s *Server) handleOverlay(args json.RawMessage) (interface{}, error) {
	var a overlayArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.ImagePath == "" || a.LabelPath == "" {
		return nil, errors.New("image_path and label_path are required")
	}
	img, err := s.cache.Load(a.ImagePath)
	if err != nil {
		return nil, err
	}
	labels, err := loadLabels(a.LabelPath)
	if err != nil {
		return nil, err
	}
	return s.renderOverlay(img, labels, opacityOr(a.Opacity), a.OutputPath, true)
}

type labelSummaryArgs struct {
	LabelPath string `json:"label_path"`
}

// LabelSummary is returned by doodler_label_summary.
type LabelSummary struct {
	Width   int            `json:"width"`
	Height  int            `json:"height"`
	Classes []ClassSummary `json:"classes"`
}

func (s *Server) handleLabelSummary(args json.RawMessage) (interface{}, error) {
	var a labelSummaryArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.LabelPath == "" {
		return nil, errors.New("label_path is required")
	}
	labels, err := loadLabels(a.LabelPath)
	if err != nil {
		return nil, err
	}
	return &LabelSummary{Width: labels.Width, Height: labels.Height, Classes: s.summarize(labels)}, nil
}

// loadLabels reads a gray label PNG. Label files are not cached since they
// are rewritten between calls.
func loadLabels(path string) (*imaging.LabelMap, error) {
	img, err := imaging.LoadImage(path)
	if err != nil {
		return nil, err
	}
	if _, ok := img.(*image.Gray); !ok {
		return nil, errors.Errorf("%q is not a gray label image", path)
	}
	return imaging.DoodlesFromImage(img, nil, 0), nil
}
