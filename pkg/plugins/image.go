package plugins

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/crystal-mush/mushscript/pkg/capability"
	"github.com/crystal-mush/mushscript/pkg/eval"
)

// maxImageResponse bounds the backend reply read into memory.
const maxImageResponse = 1 << 20

// imageClass generates images through an HTTP backend.
//
// Params:
//
//	endpoint       backend URL (required)
//	allowedModels  models scripts may ask for; absent means any
//	defaultModel   model used when the script names none
//	apiKey         sent as a bearer token
func imageClass(d Deps) *capability.Class {
	client := d.client()
	return &capability.Class{
		Type:  "image",
		Label: "Image generation",
		Validate: func(p capability.Value) error {
			if _, err := capability.RequireURL(p, "endpoint"); err != nil {
				return err
			}
			models, present, err := capability.OptionalStrings(p, "allowedModels")
			if err != nil {
				return err
			}
			if def, err := capability.RequireString(p, "defaultModel"); err == nil && present && !contains(models, def) {
				return &capability.ConfigError{Key: "defaultModel", Msg: fmt.Sprintf("%q is not in allowedModels", def)}
			}
			return nil
		},
		Methods: map[string]capability.Method{
			"generate": {
				MinArgs:    1,
				MaxArgs:    2,
				Args:       []string{"prompt", "model"},
				Label:      "Generate image",
				AllowLists: map[int]string{1: "allowedModels"},
				Fn: func(ctx context.Context, call *capability.Call) (any, error) {
					return generateImage(ctx, client, call)
				},
			},
		},
	}
}

type imageRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model,omitempty"`
}

func generateImage(ctx context.Context, client *http.Client, call *capability.Call) (any, error) {
	p := call.Cap.Params()
	endpoint, _ := capability.RequireURL(p, "endpoint")

	prompt, ok := call.Arg(0).(string)
	if !ok || prompt == "" {
		return nil, eval.Errorf("image.generate: prompt must be a non-empty string")
	}
	model, _ := call.Arg(1).(string)
	if model == "" {
		model = defaultModel(p)
	}
	if models, present, _ := capability.OptionalStrings(p, "allowedModels"); present && !contains(models, model) {
		return nil, eval.Errorf("image: model %q is not allowed", model)
	}

	body, err := json.Marshal(imageRequest{Prompt: prompt, Model: model})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if key, err := capability.RequireString(p, "apiKey"); err == nil {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &capability.StatusError{Code: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageResponse))
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("image: decoding response: %w", err)
	}
	return out, nil
}

// defaultModel is defaultModel when set, else the first allowed model.
func defaultModel(p capability.Value) string {
	if s, err := capability.RequireString(p, "defaultModel"); err == nil {
		return s
	}
	if models, _, _ := capability.OptionalStrings(p, "allowedModels"); len(models) > 0 {
		return models[0]
	}
	return ""
}

func contains(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}
