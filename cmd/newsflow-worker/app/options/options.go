// Package options contains flags and options for the newsflow worker.
package options

import (
	"fmt"

	"github.com/spf13/pflag"
	"go.uber.org/multierr"

	"github.com/kart-io/newsflow/pkg/app"
	llmopts "github.com/kart-io/newsflow/pkg/options/llm"
	logopts "github.com/kart-io/newsflow/pkg/options/logger"
	milvusopts "github.com/kart-io/newsflow/pkg/options/milvus"
	mongodbopts "github.com/kart-io/newsflow/pkg/options/mongodb"
	provideropts "github.com/kart-io/newsflow/pkg/options/provider"
	workeropts "github.com/kart-io/newsflow/pkg/options/worker"
)

var _ app.CliOptions = (*WorkerOptions)(nil)

// WorkerOptions aggregates the configuration for the worker binary.
type WorkerOptions struct {
	// Log contains logger configuration.
	Log *logopts.Options `json:"log" mapstructure:"log"`

	// MongoDB contains document store configuration.
	MongoDB *mongodbopts.Options `json:"mongodb" mapstructure:"mongodb"`

	// Milvus contains vector database configuration.
	Milvus *milvusopts.Options `json:"milvus" mapstructure:"milvus"`

	// LLM contains chat and embedding provider configuration.
	LLM *llmopts.ProviderOptions `json:"llm" mapstructure:"llm"`

	// Provider contains search and content conversion configuration.
	Provider *provideropts.Options `json:"provider" mapstructure:"provider"`

	// Worker contains run loop and analysis tuning.
	Worker *workeropts.Options `json:"worker" mapstructure:"worker"`
}

// NewWorkerOptions creates a WorkerOptions instance with default values.
func NewWorkerOptions() *WorkerOptions {
	return &WorkerOptions{
		Log:      logopts.NewOptions(),
		MongoDB:  mongodbopts.NewOptions(),
		Milvus:   milvusopts.NewOptions(),
		LLM:      llmopts.NewProviderOptions(),
		Provider: provideropts.NewOptions(),
		Worker:   workeropts.NewOptions(),
	}
}

// AddFlags adds all option flags to the given flagset.
func (o *WorkerOptions) AddFlags(fs *pflag.FlagSet) {
	o.Log.AddFlags(fs)
	o.MongoDB.AddFlags(fs)
	o.Milvus.AddFlags(fs)
	o.LLM.AddFlags(fs)
	o.Provider.AddFlags(fs)
	o.Worker.AddFlags(fs)
}

// Complete fills in sensitive fields from the environment.
func (o *WorkerOptions) Complete() error {
	if err := o.MongoDB.Complete(); err != nil {
		return fmt.Errorf("mongodb: %w", err)
	}
	if err := o.Milvus.Complete(); err != nil {
		return fmt.Errorf("milvus: %w", err)
	}
	if err := o.LLM.Complete(); err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	if err := o.Provider.Complete(); err != nil {
		return fmt.Errorf("provider: %w", err)
	}
	return nil
}

// Validate checks whether the options are valid.
func (o *WorkerOptions) Validate() error {
	var errs []error

	errs = append(errs, o.Log.Validate())
	errs = append(errs, o.MongoDB.Validate()...)
	errs = append(errs, o.Milvus.Validate()...)
	errs = append(errs, o.LLM.Validate()...)
	errs = append(errs, o.Provider.Validate()...)
	errs = append(errs, o.Worker.Validate()...)

	return multierr.Combine(errs...)
}
