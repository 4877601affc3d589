package server

// Tool represents an MCP tool definition
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

func pathProperty(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": description,
	}
}

// GetToolDefinitions returns all available tools
func GetToolDefinitions() []Tool {
	return []Tool{
		{
			Name:        "image_load",
			Description: "Load an image file and return its dimensions, format and band count.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": pathProperty("Absolute path to the image file"),
				},
				"required": []string{"path"},
			},
		},
		{
			Name: "doodler_segment",
			Description: "Segment an image from sparse doodles. Doodles are a PNG of the same size where 0 (or an unmatched colour) " +
				"means unannotated and class k is painted with gray value k or palette colour k. Returns the 0-based label map summary " +
				"and optionally writes the label PNG and an overlay.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"image_path":   pathProperty("Absolute path to the image to segment"),
					"doodles_path": pathProperty("Absolute path to the doodle PNG"),
					"output_path":  pathProperty("Optional path for the gray label PNG (values are 0-based classes)"),
					"overlay_path": pathProperty("Optional path for a colour overlay PNG"),
					"params": map[string]interface{}{
						"type":        "object",
						"description": "Optional overrides of the default parameters (see doodler_default_params)",
					},
					"return_overlay": map[string]interface{}{
						"type":        "boolean",
						"description": "Return the overlay as base64 PNG. Default false",
						"default":     false,
					},
					"opacity": map[string]interface{}{
						"type":        "number",
						"description": "Label layer opacity for overlays (0-1). Default 0.5",
						"default":     0.5,
					},
				},
				"required": []string{"image_path", "doodles_path"},
			},
		},
		{
			Name:        "doodler_overlay",
			Description: "Blend a label PNG produced by doodler_segment over its image and return it as base64 PNG.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"image_path":  pathProperty("Absolute path to the source image"),
					"label_path":  pathProperty("Absolute path to the gray label PNG"),
					"output_path": pathProperty("Optional path to also write the overlay to"),
					"opacity": map[string]interface{}{
						"type":        "number",
						"description": "Label layer opacity (0-1). Default 0.5",
						"default":     0.5,
					},
				},
				"required": []string{"image_path", "label_path"},
			},
		},
		{
			Name:        "doodler_label_summary",
			Description: "Report the classes of a label PNG with pixel counts, fractions and display colours.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"label_path": pathProperty("Absolute path to the gray label PNG"),
				},
				"required": []string{"label_path"},
			},
		},
		{
			Name:        "doodler_default_params",
			Description: "Return the segmentation parameters used when a call does not override them.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
	}
}

// handleToolsList returns the list of available tools
func (s *Server) handleToolsList(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"tools": GetToolDefinitions(),
		},
	}
}
