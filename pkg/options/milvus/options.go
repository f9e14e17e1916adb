// Package milvusopts provides options for Milvus client configuration.
package milvusopts

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/newsflow/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// Options contains Milvus client configuration.
type Options struct {
	// Address is the Milvus server address (host:port).
	Address string `json:"address" mapstructure:"address"`

	// Database is the database name to use.
	Database string `json:"database" mapstructure:"database"`

	// Username for authentication.
	Username string `json:"username" mapstructure:"username"`

	// Password for authentication.
	Password string `json:"-" mapstructure:"password"`

	// Timeout for connection and operations.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// UpsertBatchSize is the maximum number of vectors written per upsert call.
	UpsertBatchSize int `json:"upsert-batch-size" mapstructure:"upsert-batch-size"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		Address:         "localhost:19530",
		Database:        "default",
		Timeout:         30 * time.Second,
		UpsertBatchSize: 1000,
	}
}

// Complete reads sensitive fields from the environment when unset.
func (o *Options) Complete() error {
	if o.Password == "" {
		o.Password = os.Getenv("MILVUS_PASSWORD")
	}
	return nil
}

// AddFlags adds flags to the flagset.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Address, options.Join(prefixes...)+"milvus.address", o.Address, "Milvus server address (host:port).")
	fs.StringVar(&o.Database, options.Join(prefixes...)+"milvus.database", o.Database, "Milvus database name.")
	fs.StringVar(&o.Username, options.Join(prefixes...)+"milvus.username", o.Username, "Milvus username for authentication.")
	fs.StringVar(&o.Password, options.Join(prefixes...)+"milvus.password", o.Password, "Milvus password for authentication (prefer MILVUS_PASSWORD env var).")
	fs.DurationVar(&o.Timeout, options.Join(prefixes...)+"milvus.timeout", o.Timeout, "Connection and operation timeout.")
	fs.IntVar(&o.UpsertBatchSize, options.Join(prefixes...)+"milvus.upsert-batch-size", o.UpsertBatchSize, "Maximum vectors per upsert call.")
}

// Validate validates the options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.Address == "" {
		errs = append(errs, fmt.Errorf("milvus address is required"))
	}
	if o.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("milvus timeout must be positive"))
	}
	if o.UpsertBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("milvus upsert-batch-size must be positive"))
	}
	return errs
}
