package qrunner

import (
	"fmt"
	"maps"
	"strings"

	"github.com/quatton/apsflow/pkg/qsdk/qerr"
	"k8s.io/utils/ptr"
)

// ArgumentOption configures an Argument
type ArgumentOption func(*Argument)

// WithHeaders sets headers the engine sends with the request.
func WithHeaders(h map[string]string) ArgumentOption {
	return func(a *Argument) {
		a.Headers = maps.Clone(h)
	}
}

// WithLocalName names the file inside the job sandbox.
func WithLocalName(name string) ArgumentOption {
	return func(a *Argument) {
		a.LocalName = name
	}
}

// WithOnDemand defers fetching until the job asks for it.
func WithOnDemand(onDemand bool) ArgumentOption {
	return func(a *Argument) {
		a.OnDemand = ptr.To(onDemand)
	}
}

// WithUnzip asks the engine to decompress an input, or to upload an output
// as-is. On the wire this is the inverse "zip" flag.
func WithUnzip(unzip bool) ArgumentOption {
	return func(a *Argument) {
		a.Zip = ptr.To(!unzip)
	}
}

// WithDescription documents the argument.
func WithDescription(d string) ArgumentOption {
	return func(a *Argument) {
		a.Description = d
	}
}

// NewArgument is the single place arguments are built. An empty verb means
// get.
func NewArgument(url string, verb Verb, opts ...ArgumentOption) Argument {
	if verb == "" {
		verb = VerbGet
	}
	a := Argument{URL: url, Verb: Verb(strings.ToLower(string(verb)))}
	for _, opt := range opts {
		opt(&a)
	}
	return a
}

// ArgumentInput is the loosely-typed form of an argument found in batch files
// and API payloads.
type ArgumentInput struct {
	URL         string            `json:"url" yaml:"url"`
	Verb        string            `json:"verb,omitempty" yaml:"verb,omitempty"`
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	LocalName   string            `json:"localName,omitempty" yaml:"localName,omitempty"`
	OnDemand    *bool             `json:"onDemand,omitempty" yaml:"onDemand,omitempty"`
	Unzip       *bool             `json:"unzip,omitempty" yaml:"unzip,omitempty"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
}

// Argument converts the input through NewArgument.
func (in ArgumentInput) Argument() (Argument, error) {
	if in.URL == "" {
		return Argument{}, qerr.Newf(qerr.CodeConfiguration, "argument url is required")
	}
	verb := Verb(strings.ToLower(in.Verb))
	switch verb {
	case "", VerbGet, VerbPut, VerbHead, VerbPost:
	default:
		return Argument{}, qerr.Newf(qerr.CodeConfiguration, "unsupported verb %q", in.Verb)
	}

	var opts []ArgumentOption
	if len(in.Headers) > 0 {
		opts = append(opts, WithHeaders(in.Headers))
	}
	if in.LocalName != "" {
		opts = append(opts, WithLocalName(in.LocalName))
	}
	if in.OnDemand != nil {
		opts = append(opts, WithOnDemand(*in.OnDemand))
	}
	if in.Unzip != nil {
		opts = append(opts, WithUnzip(*in.Unzip))
	}
	if in.Description != "" {
		opts = append(opts, WithDescription(in.Description))
	}
	return NewArgument(in.URL, verb, opts...), nil
}

// SpecInput is the loosely-typed form of a Spec.
type SpecInput struct {
	ActivityID             string                   `json:"activityId" yaml:"activityId"`
	Arguments              map[string]ArgumentInput `json:"arguments" yaml:"arguments"`
	Nickname               string                   `json:"nickname,omitempty" yaml:"nickname,omitempty"`
	OnCompleteURL          string                   `json:"onCompleteUrl,omitempty" yaml:"onCompleteUrl,omitempty"`
	OnProgressURL          string                   `json:"onProgressUrl,omitempty" yaml:"onProgressUrl,omitempty"`
	LimitProcessingTimeSec int                      `json:"limitProcessingTimeSec,omitempty" yaml:"limitProcessingTimeSec,omitempty"`
}

// Spec validates and converts the input.
func (in SpecInput) Spec() (Spec, error) {
	if in.ActivityID == "" {
		return Spec{}, qerr.Newf(qerr.CodeConfiguration, "activityId is required")
	}
	args := make(map[string]Argument, len(in.Arguments))
	for name, ai := range in.Arguments {
		a, err := ai.Argument()
		if err != nil {
			return Spec{}, fmt.Errorf("argument %s: %w", name, err)
		}
		args[name] = a
	}
	return Spec{
		ActivityID:             in.ActivityID,
		Arguments:              args,
		Nickname:               in.Nickname,
		OnCompleteURL:          in.OnCompleteURL,
		OnProgressURL:          in.OnProgressURL,
		LimitProcessingTimeSec: in.LimitProcessingTimeSec,
	}, nil
}
