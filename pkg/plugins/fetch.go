package plugins

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/crystal-mush/mushscript/pkg/capability"
	"github.com/crystal-mush/mushscript/pkg/eval"
)

const (
	defaultFetchTimeout = 5000 // ms
	defaultFetchBytes   = 64 << 10
	maxFetchRedirects   = 10
)

// fetchClass does outbound HTTP GETs to an allow-listed set of hosts.
//
// Params:
//
//	allowedHosts  host names scripts may reach (required)
//	timeout       per-request limit in milliseconds, default 5000
//	maxBytes      response bodies are cut at this size, default 64KiB
func fetchClass(d Deps) *capability.Class {
	client := d.client()
	return &capability.Class{
		Type:  "fetch",
		Label: "Web fetch",
		Validate: func(p capability.Value) error {
			hosts, present, err := capability.OptionalStrings(p, "allowedHosts")
			if err != nil {
				return err
			}
			if !present || len(hosts) == 0 {
				return &capability.ConfigError{Key: "allowedHosts", Msg: "is required"}
			}
			if t, err := capability.OptionalNumber(p, "timeout", defaultFetchTimeout); err != nil {
				return err
			} else if t <= 0 {
				return &capability.ConfigError{Key: "timeout", Msg: "must be positive"}
			}
			_, err = capability.OptionalNumber(p, "maxBytes", defaultFetchBytes)
			return err
		},
		Methods: map[string]capability.Method{
			"get": {
				MinArgs: 1,
				MaxArgs: 1,
				Args:    []string{"url"},
				Label:   "Fetch URL",
				Fn: func(ctx context.Context, call *capability.Call) (any, error) {
					return fetch(ctx, client, call)
				},
			},
		},
	}
}

func fetch(ctx context.Context, client *http.Client, call *capability.Call) (any, error) {
	p := call.Cap.Params()
	raw, ok := call.Arg(0).(string)
	if !ok {
		return nil, eval.Errorf("fetch.get: url must be a string, got %s", eval.TypeOf(call.Arg(0)))
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, eval.Errorf("fetch.get: %q is not an http or https URL", raw)
	}
	hosts, _, _ := capability.OptionalStrings(p, "allowedHosts")
	if err := checkFetchURL(u, hosts); err != nil {
		return nil, err
	}

	ms, _ := capability.OptionalNumber(p, "timeout", defaultFetchTimeout)
	limit, _ := capability.OptionalNumber(p, "maxBytes", defaultFetchBytes)
	ctx, cancel := context.WithTimeout(ctx, time.Duration(ms)*time.Millisecond)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	c := *client
	c.CheckRedirect = func(next *http.Request, via []*http.Request) error {
		if len(via) >= maxFetchRedirects {
			return eval.Errorf("fetch: stopped after %d redirects", maxFetchRedirects)
		}
		return checkFetchURL(next.URL, hosts)
	}
	resp, err := c.Do(req)
	if err != nil {
		var se *eval.ScriptError
		if errors.As(err, &se) {
			return nil, se
		}
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(limit)))
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"status":      resp.StatusCode,
		"contentType": resp.Header.Get("Content-Type"),
		"body":        string(body),
	}, nil
}

// checkFetchURL applies the scheme and host allow-list to u. It runs on the
// first URL and again on every redirect hop.
func checkFetchURL(u *url.URL, hosts []string) error {
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return eval.Errorf("fetch.get: %q is not an http or https URL", u.String())
	}
	if !containsFold(hosts, u.Hostname()) {
		return eval.Errorf("fetch: host %q is not allowed", u.Hostname())
	}
	return nil
}

func containsFold(list []string, s string) bool {
	for _, e := range list {
		if strings.EqualFold(e, s) {
			return true
		}
	}
	return false
}
