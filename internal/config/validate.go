// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field bounds via struct tags, then the cross-field
// rules the tags cannot express. All violations are reported at once.
func (c *Config) Validate() error {
	if err := structValidator.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s violates %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("config: %w", err)
	}

	var errs []error

	if c.Pipeline.FlushInterval <= 0 {
		errs = append(errs, errors.New("pipeline.flush_interval must be positive"))
	}
	if c.Stream.BackoffMultiplier < 1 {
		errs = append(errs, errors.New("stream.backoff_multiplier must be >= 1"))
	}
	if c.Canonical.DualWrite && !c.Canonical.Enabled {
		errs = append(errs, errors.New("canonical.dual_write requires canonical.enabled"))
	}
	if c.Canonical.Enabled && c.Canonical.Version < 1 {
		errs = append(errs, errors.New("canonical.version must be >= 1 when canonical.enabled"))
	}
	if c.Gapfill.Enabled && c.Gapfill.MinimumGap <= 0 {
		errs = append(errs, errors.New("gapfill.minimum_gap must be positive when gapfill.enabled"))
	}
	if c.Resubscribe.Enabled {
		if c.Resubscribe.SymbolCooldown <= 0 {
			errs = append(errs, errors.New("resubscribe.symbol_cooldown must be positive"))
		}
		if c.Resubscribe.SweepInterval <= 0 {
			errs = append(errs, errors.New("resubscribe.sweep_interval must be positive"))
		}
	}
	if c.Store.FlushInterval <= 0 {
		errs = append(errs, errors.New("store.flush_interval must be positive"))
	}
	if c.Audit.Enabled && c.Audit.TTL <= 0 {
		errs = append(errs, errors.New("audit.ttl must be positive when audit.enabled"))
	}
	if c.NATS.Enabled && !c.NATS.Embedded && c.NATS.URL == "" {
		errs = append(errs, errors.New("nats.url is required when nats.enabled without nats.embedded"))
	}
	if c.API.Enabled && c.API.Listen == "" {
		errs = append(errs, errors.New("api.listen is required when api.enabled"))
	}
	if c.API.BearerTokenHash != "" && c.API.JWTSecret != "" {
		errs = append(errs, errors.New("api.bearer_token_hash and api.jwt_secret are mutually exclusive"))
	}

	for name, p := range c.Providers {
		if !p.Enabled {
			continue
		}
		if p.MaxRequestsPerWindow > 0 && p.RateLimitWindow <= 0 {
			errs = append(errs, fmt.Errorf(
				"providers.%s.rate_limit_window must be positive with max_requests_per_window set", name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
