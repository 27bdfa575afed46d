// Package diagnostics checks that a deployment can reach everything the
// relay depends on. Secret values are never reported, only their presence.
package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"

	"telegram-relay/internal/config"
	"telegram-relay/internal/integrations/openrouter"
	"telegram-relay/internal/integrations/telegram"
)

type Status string

const (
	StatusOK   Status = "OK"
	StatusWarn Status = "WARN"
	StatusFail Status = "FAIL"
)

type Check struct {
	Name   string
	Status Status
	Detail string
}

type Report struct {
	Checks []Check
}

// OK reports whether no check failed. Warnings do not count.
func (r Report) OK() bool {
	for _, c := range r.Checks {
		if c.Status == StatusFail {
			return false
		}
	}
	return true
}

func (r *Report) add(name string, status Status, format string, args ...any) {
	r.Checks = append(r.Checks, Check{Name: name, Status: status, Detail: fmt.Sprintf(format, args...)})
}

// WriteTo prints the report as an aligned table.
func (r Report) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	tw := tabwriter.NewWriter(cw, 0, 4, 2, ' ', 0)
	for _, c := range r.Checks {
		if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\n", c.Status, c.Name, c.Detail); err != nil {
			return cw.n, err
		}
	}
	err := tw.Flush()
	return cw.n, err
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type ParamChecker interface {
	Missing(ctx context.Context, names ...string) ([]string, error)
}

type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

type BotProfile interface {
	GetMe(ctx context.Context) (telegram.BotUser, error)
}

// Deps are the components to probe. Params may be nil when secrets come
// from the environment.
type Deps struct {
	Config     *config.Config
	Store      Pinger
	Params     ParamChecker
	ParamNames []string
	Models     ModelLister
	Bot        BotProfile
	LookupEnv  func(string) (string, bool)
}

// Run executes every check and returns the report. It never stops early.
func Run(ctx context.Context, d Deps) (Report, error) {
	if d.Config == nil {
		return Report{}, errors.New("diagnostics: config must not be nil")
	}
	r := Env(d.LookupEnv)
	checkModelName(&r, d.Config.OpenRouter.Model)

	if d.Store != nil {
		if err := d.Store.Ping(ctx); err != nil {
			r.add("store", StatusFail, "%s: %v", d.Config.StoreBackend, err)
		} else {
			r.add("store", StatusOK, "%s reachable", d.Config.StoreBackend)
		}
	}

	if d.Params != nil {
		missing, err := d.Params.Missing(ctx, d.ParamNames...)
		switch {
		case err != nil:
			r.add("parameters", StatusFail, "%v", err)
		case len(missing) > 0:
			r.add("parameters", StatusFail, "missing: %s", strings.Join(missing, ", "))
		default:
			r.add("parameters", StatusOK, "%d present under %s", len(d.ParamNames), d.Config.ParamPrefix)
		}
	}

	if d.Models != nil {
		ids, err := d.Models.ListModels(ctx)
		switch {
		case err != nil:
			r.add("openrouter", StatusFail, "%v", err)
		case !slices.Contains(ids, d.Config.OpenRouter.Model):
			r.add("openrouter", StatusWarn, "reachable, but %q is not in the %d served models", d.Config.OpenRouter.Model, len(ids))
		default:
			r.add("openrouter", StatusOK, "reachable, %q served", d.Config.OpenRouter.Model)
		}
	}

	if d.Bot != nil {
		me, err := d.Bot.GetMe(ctx)
		if err != nil {
			r.add("telegram", StatusFail, "%v", err)
		} else {
			r.add("telegram", StatusOK, "bot @%s (id %d)", me.Username, me.ID)
		}
	}
	return r, nil
}

// Env reports which of config.EnvKeys are set. It needs no valid
// configuration, so it also runs when loading one fails.
func Env(lookup func(string) (string, bool)) Report {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	var r Report
	for _, key := range config.EnvKeys {
		v, ok := lookup(key)
		if !ok || v == "" {
			r.add("env "+key, StatusWarn, "MISSING")
			continue
		}
		r.add("env "+key, StatusOK, "SET (length %d)", len(v))
	}
	return r
}

func checkModelName(r *Report, model string) {
	if openrouter.IsKnownModel(model) {
		r.add("model", StatusOK, "%s", model)
		return
	}
	r.add("model", StatusWarn, "%s is not one of: %s", model, strings.Join(openrouter.KnownModels, ", "))
}
