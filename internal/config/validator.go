package config

import (
	"net"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-crm-batch/internal/logger"
)

// Validate checks the whole tree. Any failure aborts startup.
func (c *Config) Validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.Database),
		validation.Field(&c.Cache),
		validation.Field(&c.Storage),
		validation.Field(&c.Jobs, validation.By(func(any) error {
			return validation.ValidateStruct(&c.Jobs,
				validation.Field(&c.Jobs.Workers, validation.Min(1)),
				validation.Field(&c.Jobs.MaxAttempts, validation.Min(1)),
				validation.Field(&c.Jobs.Timeout, validation.Required),
				validation.Field(&c.Jobs.Lease, validation.Required,
					validation.Min(c.Jobs.Timeout+1).Error("must be longer than jobs.timeout")),
			)
		})),
		validation.Field(&c.Import, validation.By(func(any) error {
			return validation.ValidateStruct(&c.Import,
				validation.Field(&c.Import.ProgressEvery, validation.Min(1)),
			)
		})),
		validation.Field(&c.Export, validation.By(func(any) error {
			return validation.ValidateStruct(&c.Export,
				validation.Field(&c.Export.DownloadTTL, validation.Required),
				validation.Field(&c.Export.BatchSize, validation.Min(1)),
			)
		})),
		validation.Field(&c.Audit),
		validation.Field(&c.Sweep),
		validation.Field(&c.Log, validation.By(func(any) error {
			return validation.ValidateStruct(&c.Log,
				validation.Field(&c.Log.Dir, validation.Required),
				validation.Field(&c.Log.Level, validation.In(logger.Levels...)),
			)
		})),
		validation.Field(&c.Metrics),
	)
	if err != nil {
		return goerrors.FromOzzoValidation(err, "invalid configuration")
	}
	return nil
}

func (d Database) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Driver, validation.Required, validation.In(DriverSQLite, DriverPostgres)),
		validation.Field(&d.DSN, validation.Required),
		validation.Field(&d.MaxOpenConns, validation.Min(0)),
	)
}

func (c Cache) Validate() error {
	if err := c.Config.Validate(); err != nil {
		return err
	}
	for entity, ttls := range c.TTLs {
		if err := ttls.Validate(); err != nil {
			return validation.Errors{entity: err}
		}
	}
	return nil
}

func (s Storage) Validate() error {
	local := s.Driver == StorageLocal
	return validation.ValidateStruct(&s,
		validation.Field(&s.Driver, validation.Required, validation.In(StorageLocal, StorageS3)),
		validation.Field(&s.Root, validation.When(local, validation.Required)),
		validation.Field(&s.BaseURL, validation.When(local, validation.Required, is.URL)),
		validation.Field(&s.SigningKey, validation.When(local, validation.Required, validation.Length(16, 0))),
		validation.Field(&s.S3, validation.When(s.Driver == StorageS3, validation.By(func(any) error {
			return validation.ValidateStruct(&s.S3,
				validation.Field(&s.S3.Bucket, validation.Required),
			)
		}))),
	)
}

func (a Audit) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.Buffer, validation.When(a.Async, validation.Min(1))),
		validation.Field(&a.Retention, validation.Min(time.Duration(0))),
	)
}

func (s Sweep) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Interval, validation.Required),
		validation.Field(&s.JobRetention, validation.Required),
	)
}

func (m Metrics) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Addr, validation.By(hostPort)),
	)
}

func hostPort(v any) error {
	addr, _ := v.(string)
	if addr == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return validation.NewError("validation_is_host_port", "must be a host:port address")
	}
	return nil
}
